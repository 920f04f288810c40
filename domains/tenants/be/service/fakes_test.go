package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// inMemoryRepo is a minimal Repository honoring compare-and-swap and the
// descriptor invariant.
type inMemoryRepo struct {
	mu   sync.Mutex
	data map[uuid.UUID]Tenant

	// conflicts makes the next N updates lose the race after bumping the version.
	conflicts int
	// updateErrs are returned, in order, by the next updates.
	updateErrs []error
	updates    int
}

func newInMemoryRepo() *inMemoryRepo {
	return &inMemoryRepo{data: make(map[uuid.UUID]Tenant)}
}

func (r *inMemoryRepo) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Tenant
	for _, t := range r.data {
		if opts.State == nil || t.State == *opts.State {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return ListResult{Tenants: out, Page: 1, PageSize: len(out), TotalItems: len(out), TotalPages: 1}, nil
}

func (r *inMemoryRepo) Create(ctx context.Context, t Tenant) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.data {
		if existing.Identifier == t.Identifier {
			return Tenant{}, ErrConflictIdentifier
		}
	}
	r.data[t.ID] = t
	return t, nil
}

func (r *inMemoryRepo) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[id]
	if !ok {
		return Tenant{}, tenant.NotFound("", id)
	}
	return t, nil
}

func (r *inMemoryRepo) FindByIdentifier(ctx context.Context, identifier string) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.data {
		if t.Identifier == identifier {
			return t, nil
		}
	}
	return Tenant{}, tenant.NotFound(identifier, uuid.Nil)
}

func (r *inMemoryRepo) UpdateLifecycle(ctx context.Context, id uuid.UUID, expectedVersion int64, state tenant.State, d *tenant.Descriptor) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++

	t, ok := r.data[id]
	if !ok {
		return Tenant{}, tenant.NotFound("", id)
	}
	if len(r.updateErrs) > 0 {
		err := r.updateErrs[0]
		r.updateErrs = r.updateErrs[1:]
		if err != nil {
			return Tenant{}, err
		}
	}
	if r.conflicts > 0 {
		r.conflicts--
		t.Version++
		r.data[id] = t
		return Tenant{}, tenant.Conflict(id)
	}
	if t.Version != expectedVersion {
		return Tenant{}, tenant.Conflict(id)
	}
	if err := tenant.CheckRecord(state, d != nil); err != nil {
		return Tenant{}, err
	}

	t.State = state
	t.Descriptor = d
	t.Version++
	t.LastModifiedAt = time.Now().UTC()
	r.data[id] = t
	return t, nil
}

func (r *inMemoryRepo) put(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[t.ID] = t
}

type recordingEvictor struct {
	mu      sync.Mutex
	evicted []uuid.UUID
}

func (e *recordingEvictor) Evict(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicted = append(e.evicted, id)
	return true
}

func (e *recordingEvictor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.evicted)
}

// fakeStore records calls. When gate is set, Allocate blocks until it is
// closed; entered is closed on the first Allocate.
type fakeStore struct {
	mu          sync.Mutex
	calls       []string
	allocations int

	gate        chan struct{}
	entered     chan struct{}
	enteredOnce sync.Once

	failStep tenant.Step
	failErr  error
	status   StoreStatus
}

func (s *fakeStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeStore) failing(step tenant.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStep == step {
		return s.failErr
	}
	return nil
}

func (s *fakeStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStep = ""
	s.failErr = nil
}

func (s *fakeStore) Allocate(ctx context.Context, req StoreRequest) (tenant.Descriptor, error) {
	s.record("allocate")
	if s.entered != nil {
		s.enteredOnce.Do(func() { close(s.entered) })
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return tenant.Descriptor{}, ctx.Err()
		}
	}
	if err := s.failing(tenant.StepAllocate); err != nil {
		return tenant.Descriptor{}, err
	}

	s.mu.Lock()
	s.allocations++
	s.mu.Unlock()
	return tenant.Descriptor{
		Version:       1,
		SchemaName:    req.SchemaName,
		RoleName:      req.RoleName,
		StoragePrefix: req.StoragePrefix,
	}, nil
}

func (s *fakeStore) ApplySchema(ctx context.Context, d tenant.Descriptor) error {
	s.record("apply_schema")
	return s.failing(tenant.StepApplySchema)
}

func (s *fakeStore) Seed(ctx context.Context, d tenant.Descriptor) error {
	s.record("seed")
	return s.failing(tenant.StepSeed)
}

func (s *fakeStore) Check(ctx context.Context, req StoreRequest) (StoreStatus, error) {
	return s.status, nil
}

func (s *fakeStore) allocationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocations
}

type stubStorage struct {
	res StorageProvisionResult
	err error
}

func (s stubStorage) Ensure(context.Context, string) (StorageProvisionResult, error) {
	return s.res, s.err
}

func (s stubStorage) Check(context.Context, string) (StorageProvisionResult, error) {
	return s.res, s.err
}

type busyLocker struct{}

func (busyLocker) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	return nil, tenant.AlreadyProvisioning(id)
}

type countingLocker struct {
	mu       sync.Mutex
	locks    int
	unlocked int
}

func (l *countingLocker) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	l.locks++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.unlocked++
		l.mu.Unlock()
	}, nil
}

var errTransient = errors.New("transient failure")
