package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and early development.
type MemoryRepository struct {
	mu           sync.RWMutex
	byID         map[uuid.UUID]service.Tenant
	byIdentifier map[string]uuid.UUID
	now          func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:         make(map[uuid.UUID]service.Tenant),
		byIdentifier: make(map[string]uuid.UUID),
		now:          time.Now,
	}
}

func (r *MemoryRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		if opts.State != nil && t.State != *opts.State {
			continue
		}
		items = append(items, clone(t))
	}

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	page, pageSize := pagination(opts)

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	paged := items[start:end]
	totalPages := (len(items) + pageSize - 1) / pageSize

	return service.ListResult{
		Tenants:    paged,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: len(items),
		TotalPages: totalPages,
	}, nil
}

func (r *MemoryRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	if err := tenant.CheckRecord(t.State, t.Descriptor != nil); err != nil {
		return service.Tenant{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byIdentifier[t.Identifier]; exists {
		return service.Tenant{}, service.ErrConflictIdentifier
	}

	t.Version = 1
	r.byID[t.ID] = clone(t)
	r.byIdentifier[t.Identifier] = t.ID
	return clone(t), nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, tenant.NotFound("", id)
	}
	return clone(t), nil
}

func (r *MemoryRepository) FindByIdentifier(ctx context.Context, identifier string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdentifier[identifier]
	if !ok {
		return service.Tenant{}, tenant.NotFound(identifier, uuid.Nil)
	}
	return clone(r.byID[id]), nil
}

// UpdateLifecycle applies the change only if the record is still at expectedVersion.
func (r *MemoryRepository) UpdateLifecycle(ctx context.Context, id uuid.UUID, expectedVersion int64, state tenant.State, d *tenant.Descriptor) (service.Tenant, error) {
	if err := tenant.CheckRecord(state, d != nil); err != nil {
		return service.Tenant{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, tenant.NotFound("", id)
	}
	if t.Version != expectedVersion {
		return service.Tenant{}, tenant.Conflict(id)
	}

	t.State = state
	t.Descriptor = cloneDescriptor(d)
	t.Version++
	t.LastModifiedAt = r.now().UTC()
	r.byID[id] = t
	return clone(t), nil
}

func pagination(opts service.ListOptions) (page, pageSize int) {
	page = opts.Page
	if page < 1 {
		page = 1
	}
	pageSize = opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize
}

func clone(t service.Tenant) service.Tenant {
	t.Descriptor = cloneDescriptor(t.Descriptor)
	return t
}

func cloneDescriptor(d *tenant.Descriptor) *tenant.Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
