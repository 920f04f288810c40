package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Outcome is the state of a provisioning run.
type Outcome string

const (
	OutcomeInProgress Outcome = "in_progress"
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
)

// ProvisioningJob is a snapshot of a provisioning run. Step is the step
// being executed, or the one that failed.
type ProvisioningJob struct {
	TenantID   uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    Outcome
	Step       tenant.Step
	Err        error
}

// OrchestratorConfig bounds provisioning runs. Zero values take the defaults.
type OrchestratorConfig struct {
	// StepTimeout bounds each step. Default 30s.
	StepTimeout time.Duration
	// RunTimeout bounds a whole run. Default 5m.
	RunTimeout time.Duration
	// ActivateAttempts bounds retries of the final directory update. Default 3.
	ActivateAttempts int
	// ActivateBackoff is multiplied by the attempt number between retries. Default 100ms.
	ActivateBackoff time.Duration
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Minute
	}
	if c.ActivateAttempts <= 0 {
		c.ActivateAttempts = 3
	}
	if c.ActivateBackoff <= 0 {
		c.ActivateBackoff = 100 * time.Millisecond
	}
	return c
}

type provisioningRun struct {
	done chan struct{}

	mu     sync.Mutex
	job    ProvisioningJob
	result Tenant
}

func (r *provisioningRun) snapshot() ProvisioningJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

func (r *provisioningRun) setStep(step tenant.Step) {
	r.mu.Lock()
	r.job.Step = step
	r.mu.Unlock()
}

// Orchestrator drives a Pending tenant to Active. At most one run per tenant
// executes in this process; runs are detached from the callers that start them.
type Orchestrator struct {
	svc     *Service
	deps    ProvisioningDeps
	cfg     OrchestratorConfig
	logger  *zap.Logger
	metrics *ProvisioningMetrics
	now     func() time.Time

	mu   sync.Mutex
	runs map[uuid.UUID]*provisioningRun
	wg   sync.WaitGroup
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

func WithProvisioningMetrics(m *ProvisioningMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func NewOrchestrator(svc *Service, deps ProvisioningDeps, cfg OrchestratorConfig, opts ...OrchestratorOption) *Orchestrator {
	if svc == nil {
		panic("orchestrator requires tenants service")
	}
	if deps.Store == nil {
		panic("orchestrator requires store provisioner")
	}
	o := &Orchestrator{
		svc:    svc,
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
		now:    svc.now,
		runs:   make(map[uuid.UUID]*provisioningRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewProvisioningMetrics(nil)
	}
	return o
}

// Provision runs provisioning for id and waits for the outcome. A caller
// arriving while a run is in flight waits for that run instead of starting
// another. Cancelling ctx abandons the wait, not the run.
func (o *Orchestrator) Provision(ctx context.Context, id uuid.UUID) (Tenant, error) {
	if _, err := o.svc.Get(ctx, id); err != nil {
		return Tenant{}, err
	}

	r, _ := o.begin(ctx, id)
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.result, r.job.Err
	case <-ctx.Done():
		return Tenant{}, ctx.Err()
	}
}

// Start begins a run in the background and returns its initial snapshot.
// It fails with tenant.ErrAlreadyProvisioning when a run is in flight.
func (o *Orchestrator) Start(ctx context.Context, id uuid.UUID) (ProvisioningJob, error) {
	if _, err := o.svc.Get(ctx, id); err != nil {
		return ProvisioningJob{}, err
	}

	r, started := o.begin(ctx, id)
	if !started {
		return ProvisioningJob{}, tenant.AlreadyProvisioning(id)
	}
	return r.snapshot(), nil
}

// Job returns the snapshot of the in-flight run for id, if any.
func (o *Orchestrator) Job(id uuid.UUID) (ProvisioningJob, bool) {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return ProvisioningJob{}, false
	}
	return r.snapshot(), true
}

// Status combines the directory record, the in-flight run and a read-only
// check of the tenant's store.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (ProvisioningStatus, error) {
	t, err := o.svc.Get(ctx, id)
	if err != nil {
		return ProvisioningStatus{}, err
	}

	status := ProvisioningStatus{Tenant: t}
	if job, ok := o.Job(id); ok {
		status.Job = &job
	}

	store, err := o.deps.Store.Check(ctx, storeRequest(t))
	if err != nil {
		return ProvisioningStatus{}, fmt.Errorf("check tenant store: %w", err)
	}
	status.Store = store

	if o.deps.Storage != nil {
		res, err := o.deps.Storage.Check(ctx, t.BasePrefix)
		if err != nil {
			return ProvisioningStatus{}, fmt.Errorf("check tenant storage: %w", err)
		}
		status.StorageReady = &res.Ready
	}
	return status, nil
}

// ProvisioningStatus is the answer to "how far along is this tenant".
type ProvisioningStatus struct {
	Tenant       Tenant
	Job          *ProvisioningJob
	Store        StoreStatus
	StorageReady *bool
}

// Wait blocks until every run started by this orchestrator has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) begin(ctx context.Context, id uuid.UUID) (*provisioningRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.runs[id]; ok {
		return r, false
	}

	r := &provisioningRun{
		done: make(chan struct{}),
		job:  ProvisioningJob{TenantID: id, StartedAt: o.now().UTC(), Outcome: OutcomeInProgress, Step: tenant.StepLock},
	}
	o.runs[id] = r
	o.wg.Add(1)

	audit := requesttrace.FromContextOrAnonymous(ctx)
	go o.execute(r, audit)
	return r, true
}

func (o *Orchestrator) execute(r *provisioningRun, audit requesttrace.AuditInfo) {
	defer o.wg.Done()

	id := r.job.TenantID
	logger := o.logger.With(
		zap.String("tenant_id", id.String()),
		zap.String("actor_kind", string(audit.ActorKind)),
		zap.String("request_id", audit.RequestID),
	)

	ctx, cancel := context.WithTimeout(requesttrace.IntoContext(context.Background(), audit), o.cfg.RunTimeout)
	defer cancel()

	o.metrics.InFlight.Inc()
	started := time.Now()
	logger.Info("tenant provisioning started")

	result, err := o.run(ctx, r, logger)

	o.metrics.InFlight.Dec()
	o.metrics.Duration.Observe(time.Since(started).Seconds())

	finished := o.now().UTC()
	r.mu.Lock()
	r.result = result
	r.job.Err = err
	r.job.FinishedAt = &finished
	if err != nil {
		r.job.Outcome = OutcomeFailed
	} else {
		r.job.Outcome = OutcomeSucceeded
	}
	step := r.job.Step
	r.mu.Unlock()

	if err != nil {
		o.metrics.Runs.WithLabelValues(string(OutcomeFailed)).Inc()
		if errors.Is(err, tenant.ErrProvisioningStepFailed) {
			o.metrics.StepFailures.WithLabelValues(string(step)).Inc()
		}
		logger.Error("tenant provisioning failed", zap.String("step", string(step)), zap.Error(err))
	} else {
		o.metrics.Runs.WithLabelValues(string(OutcomeSucceeded)).Inc()
		logger.Info("tenant provisioning succeeded", zap.Int64("version", result.Version))
	}

	o.mu.Lock()
	delete(o.runs, id)
	o.mu.Unlock()
	close(r.done)
}

func (o *Orchestrator) run(ctx context.Context, r *provisioningRun, logger *zap.Logger) (Tenant, error) {
	id := r.job.TenantID

	if o.deps.Locker != nil {
		var unlock func()
		err := o.step(ctx, r, tenant.StepLock, func(ctx context.Context) error {
			var err error
			unlock, err = o.deps.Locker.Lock(ctx, id)
			return err
		})
		if err != nil {
			if errors.Is(err, tenant.ErrAlreadyProvisioning) {
				return Tenant{}, tenant.AlreadyProvisioning(id)
			}
			return Tenant{}, err
		}
		defer unlock()
	}

	current, err := o.svc.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	switch {
	case current.State == tenant.StateActive && current.Descriptor != nil:
		logger.Info("tenant already provisioned")
		return current, nil
	case current.State != tenant.StatePending:
		return Tenant{}, tenant.InvalidTransition(id, current.State, tenant.StateActive)
	}

	req := storeRequest(current)

	var d tenant.Descriptor
	if err := o.step(ctx, r, tenant.StepAllocate, func(ctx context.Context) error {
		var err error
		d, err = o.deps.Store.Allocate(ctx, req)
		if err != nil {
			return err
		}
		return d.Validate()
	}); err != nil {
		return Tenant{}, err
	}

	if err := o.step(ctx, r, tenant.StepApplySchema, func(ctx context.Context) error {
		return o.deps.Store.ApplySchema(ctx, d)
	}); err != nil {
		return Tenant{}, err
	}

	if err := o.step(ctx, r, tenant.StepSeed, func(ctx context.Context) error {
		return o.deps.Store.Seed(ctx, d)
	}); err != nil {
		return Tenant{}, err
	}

	if o.deps.Storage != nil {
		if err := o.step(ctx, r, tenant.StepStorage, func(ctx context.Context) error {
			res, err := o.deps.Storage.Ensure(ctx, current.BasePrefix)
			if err != nil {
				return err
			}
			if !res.Ready {
				return errors.New("storage prefix not ready")
			}
			return nil
		}); err != nil {
			return Tenant{}, err
		}
	}

	return o.activate(ctx, r, d, logger)
}

// activate retries only the directory update; the store work above is done.
func (o *Orchestrator) activate(ctx context.Context, r *provisioningRun, d tenant.Descriptor, logger *zap.Logger) (Tenant, error) {
	id := r.job.TenantID
	r.setStep(tenant.StepActivate)

	var lastErr error
	for attempt := 1; attempt <= o.cfg.ActivateAttempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		t, err := o.svc.activate(stepCtx, id, d)
		cancel()
		if err == nil {
			return t, nil
		}

		if errors.Is(err, tenant.ErrInvalidTransition) {
			// Someone else finished first, or the tenant was deleted meanwhile.
			if cur, getErr := o.svc.Get(ctx, id); getErr == nil && cur.State == tenant.StateActive {
				return cur, nil
			}
			return Tenant{}, err
		}

		lastErr = err
		logger.Warn("tenant activation failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < o.cfg.ActivateAttempts {
			select {
			case <-time.After(o.cfg.ActivateBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return Tenant{}, tenant.StepFailed(id, tenant.StepActivate, ctx.Err())
			}
		}
	}
	return Tenant{}, tenant.StepFailed(id, tenant.StepActivate, lastErr)
}

func (o *Orchestrator) step(ctx context.Context, r *provisioningRun, step tenant.Step, fn func(ctx context.Context) error) error {
	r.setStep(step)

	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	if err := fn(stepCtx); err != nil {
		if errors.Is(err, tenant.ErrAlreadyProvisioning) {
			return err
		}
		return tenant.StepFailed(r.job.TenantID, step, err)
	}
	return nil
}
