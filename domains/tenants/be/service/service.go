package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrNotFound           = tenant.ErrTenantNotFound
	ErrConflictIdentifier = errors.New("tenant identifier already exists")
	ErrInvalidIdentifier  = errors.New("invalid tenant identifier")
	ErrInvalidDescriptor  = errors.New("invalid connection descriptor")
)

// Tenant is the directory record of a tenant.
type Tenant struct {
	ID          uuid.UUID
	Identifier  string
	DisplayName *string
	State       tenant.State
	// Descriptor is set iff State is Active or Suspended.
	Descriptor    *tenant.Descriptor
	SchemaName    string
	BasePrefix    string
	ShortTenantID string
	// Version is bumped by every lifecycle update and guards compare-and-swap.
	Version        int64
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

// Entry projects the record for the tenant resolver.
func (t Tenant) Entry() tenant.Entry {
	return tenant.Entry{ID: t.ID, Identifier: t.Identifier, State: t.State, Descriptor: t.Descriptor}
}

// RoleName is the role reserved for the tenant schema.
func (t Tenant) RoleName() string {
	return tenant.BuildRoleName(t.SchemaName)
}

// CreateInput represents the request to create a tenant.
type CreateInput struct {
	Identifier  string
	DisplayName *string
}

// ListResult wraps paginated tenants.
type ListResult struct {
	Tenants    []Tenant
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// ListOptions captures filters and pagination.
type ListOptions struct {
	Page     int
	PageSize int
	State    *tenant.State
}

// Repository abstracts persistence.
//
// Get and FindByIdentifier return an error matching tenant.ErrTenantNotFound
// when no record exists. UpdateLifecycle applies the change only when the
// stored version equals expectedVersion, returning tenant.ErrDirectoryUpdateConflict
// otherwise, and rejects records that break the descriptor invariant.
type Repository interface {
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Create(ctx context.Context, t Tenant) (Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	FindByIdentifier(ctx context.Context, identifier string) (Tenant, error)
	UpdateLifecycle(ctx context.Context, id uuid.UUID, expectedVersion int64, state tenant.State, d *tenant.Descriptor) (Tenant, error)
}

// Evictor drops a tenant's cached data-plane connection.
type Evictor interface {
	Evict(tenantID uuid.UUID) bool
}

type noopEvictor struct{}

func (noopEvictor) Evict(uuid.UUID) bool { return false }

// Service provides tenant directory operations.
type Service struct {
	repo            Repository
	envKey          string
	evictor         Evictor
	logger          *zap.Logger
	now             func() time.Time
	conflictRetries int
}

// Option customizes a Service.
type Option func(*Service)

// WithEvictor wires the connection cache so lifecycle changes drop stale handles.
func WithEvictor(e Evictor) Option { return func(s *Service) { s.evictor = e } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithConflictRetries bounds re-read attempts after a lost compare-and-swap. Default 5.
func WithConflictRetries(n int) Option { return func(s *Service) { s.conflictRetries = n } }

// ValidateEnvKey reports whether envKey leaves room for every valid slug in
// the derived schema and role names.
func ValidateEnvKey(envKey string) error {
	envKey = strings.TrimSpace(envKey)
	if envKey == "" {
		return errors.New("env key must not be blank")
	}
	if limit := tenant.MaxEnvKeyLength(persistence.MaxSlugLength); len(envKey) > limit {
		return fmt.Errorf("env key %q is %d bytes, limit is %d", envKey, len(envKey), limit)
	}
	return nil
}

// New constructs a Service with required dependencies.
func New(repo Repository, envKey string, opts ...Option) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if envKey == "" {
		panic("envKey is required")
	}
	s := &Service{
		repo:            repo,
		envKey:          envKey,
		evictor:         noopEvictor{},
		logger:          zap.NewNop(),
		now:             time.Now,
		conflictRetries: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.conflictRetries < 1 {
		s.conflictRetries = 1
	}
	return s
}

// EnvKey returns the environment the service derives names for.
func (s *Service) EnvKey() string { return s.envKey }

// List tenants with optional state filter.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	if opts.State != nil && !opts.State.IsValid() {
		return ListResult{}, tenant.InvalidState(string(*opts.State))
	}
	return s.repo.List(ctx, opts)
}

// Create registers a Pending tenant with derived schema and storage names.
func (s *Service) Create(ctx context.Context, input CreateInput) (Tenant, error) {
	identifier, err := persistence.NormalizeSlug(input.Identifier)
	if err != nil {
		return Tenant{}, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}

	schemaName := tenant.BuildSchemaName(s.envKey, tenant.ToSnake(identifier))
	if err := tenant.CheckStoreNames(schemaName); err != nil {
		return Tenant{}, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}

	id := uuid.New()
	shortID := tenant.ShortID(id)
	now := s.now().UTC()

	t := Tenant{
		ID:             id,
		Identifier:     identifier,
		DisplayName:    input.DisplayName,
		State:          tenant.StatePending,
		SchemaName:     schemaName,
		BasePrefix:     tenant.BuildBasePrefix(s.envKey, identifier, shortID),
		ShortTenantID:  shortID,
		Version:        1,
		CreatedAt:      now,
		LastModifiedAt: now,
	}

	created, err := s.repo.Create(ctx, t)
	if err != nil {
		return Tenant{}, err
	}
	s.logger.Info("tenant created",
		zap.String("tenant_id", created.ID.String()),
		zap.String("tenant", created.Identifier),
		zap.String("actor_kind", string(requesttrace.FromContextOrAnonymous(ctx).ActorKind)),
	)
	return created, nil
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.Get(ctx, id)
}

// FindByIdentifier returns a tenant by its public identifier.
func (s *Service) FindByIdentifier(ctx context.Context, identifier string) (Tenant, error) {
	return s.repo.FindByIdentifier(ctx, identifier)
}

// LookupByIdentifier serves the tenant resolver.
func (s *Service) LookupByIdentifier(ctx context.Context, identifier string) (tenant.Entry, error) {
	t, err := s.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		return tenant.Entry{}, err
	}
	return t.Entry(), nil
}

// UpdateLifecycleState moves a tenant to target. Re-applying the current state
// is a no-op unless d rotates the descriptor of an Active or Suspended tenant.
// A nil d keeps the current descriptor where the target state holds one.
// Pending tenants become Active only through provisioning.
func (s *Service) UpdateLifecycleState(ctx context.Context, id uuid.UUID, target tenant.State, d *tenant.Descriptor) (Tenant, error) {
	if !target.IsValid() {
		return Tenant{}, tenant.InvalidState(string(target))
	}
	return s.transition(ctx, id, target, d, false)
}

// Suspend blocks request serving while keeping the tenant's store reachable for reactivation.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.UpdateLifecycleState(ctx, id, tenant.StateSuspended, nil)
}

// Reactivate returns a Suspended tenant to Active.
func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.UpdateLifecycleState(ctx, id, tenant.StateActive, nil)
}

// Deactivate permanently stops serving a tenant. Its store is left in place.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.UpdateLifecycleState(ctx, id, tenant.StateDeactivated, nil)
}

// Delete revokes all access. No data is dropped.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.UpdateLifecycleState(ctx, id, tenant.StateDeleted, nil)
}

// activate records a provisioned descriptor and moves Pending to Active.
func (s *Service) activate(ctx context.Context, id uuid.UUID, d tenant.Descriptor) (Tenant, error) {
	return s.transition(ctx, id, tenant.StateActive, &d, true)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, target tenant.State, d *tenant.Descriptor, provisioning bool) (Tenant, error) {
	var lastErr error
	for attempt := 1; attempt <= s.conflictRetries; attempt++ {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return Tenant{}, err
		}

		next, changed, err := s.plan(current, target, d, provisioning)
		if err != nil {
			return Tenant{}, err
		}
		if !changed {
			return current, nil
		}

		updated, err := s.repo.UpdateLifecycle(ctx, id, current.Version, target, next)
		if err == nil {
			s.afterTransition(ctx, current, updated)
			return updated, nil
		}
		if !errors.Is(err, tenant.ErrDirectoryUpdateConflict) {
			return Tenant{}, err
		}

		lastErr = err
		s.logger.Debug("tenant lifecycle update lost race; re-reading",
			zap.String("tenant_id", id.String()), zap.Int("attempt", attempt))
	}
	return Tenant{}, lastErr
}

// plan returns the descriptor the target record carries and whether any
// change is needed.
func (s *Service) plan(current Tenant, target tenant.State, d *tenant.Descriptor, provisioning bool) (*tenant.Descriptor, bool, error) {
	if current.State == target {
		if d == nil || !target.HoldsDescriptor() {
			return current.Descriptor, false, nil
		}
		if current.Descriptor != nil && d.Version <= current.Descriptor.Version {
			return nil, false, fmt.Errorf("%w: version %d does not supersede %d", ErrInvalidDescriptor, d.Version, current.Descriptor.Version)
		}
		if err := d.Validate(); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}
		return d, true, nil
	}

	if !tenant.CanTransition(current.State, target) {
		return nil, false, tenant.InvalidTransition(current.ID, current.State, target)
	}
	if current.State == tenant.StatePending && target == tenant.StateActive && !provisioning {
		return nil, false, tenant.InvalidTransition(current.ID, current.State, target)
	}

	if !target.HoldsDescriptor() {
		return nil, true, nil
	}

	next := current.Descriptor
	if d != nil {
		if err := d.Validate(); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}
		if current.Descriptor != nil && d.Version < current.Descriptor.Version {
			return nil, false, fmt.Errorf("%w: version %d is older than %d", ErrInvalidDescriptor, d.Version, current.Descriptor.Version)
		}
		next = d
	}
	if next == nil {
		return nil, false, fmt.Errorf("%w: state %s requires a descriptor", ErrInvalidDescriptor, target)
	}
	return next, true, nil
}

func (s *Service) afterTransition(ctx context.Context, before, after Tenant) {
	audit := requesttrace.FromContextOrAnonymous(ctx)
	s.logger.Info("tenant lifecycle changed",
		zap.String("tenant_id", after.ID.String()),
		zap.String("tenant", after.Identifier),
		zap.String("from", string(before.State)),
		zap.String("to", string(after.State)),
		zap.Int64("version", after.Version),
		zap.String("actor_kind", string(audit.ActorKind)),
		zap.String("request_id", audit.RequestID),
	)

	if !before.State.HoldsDescriptor() {
		return
	}
	if after.State != tenant.StateActive || descriptorVersion(before) != descriptorVersion(after) {
		s.evictor.Evict(after.ID)
	}
}

func descriptorVersion(t Tenant) int64 {
	if t.Descriptor == nil {
		return 0
	}
	return t.Descriptor.Version
}
