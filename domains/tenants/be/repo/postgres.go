package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/secrets"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// DescriptorPurpose separates the descriptor key from other keys derived
// from the same master secret.
const DescriptorPurpose = "palmyra.tenant.descriptor.v1"

// PostgresRepository implements the tenant repository on the admin schema.
// Connection descriptors are stored sealed and bound to their tenant id.
type PostgresRepository struct {
	store  *persistence.TenantStore
	sealer *secrets.Sealer
	now    func() time.Time
}

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore, sealer *secrets.Sealer) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	if sealer == nil {
		panic("descriptor sealer is required")
	}
	return &PostgresRepository{store: store, sealer: sealer, now: time.Now}
}

func (r *PostgresRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	page, size := pagination(opts)
	offset := (page - 1) * size

	var stateStr *string
	if opts.State != nil {
		s := string(*opts.State)
		stateStr = &s
	}

	rows, total, err := r.store.List(ctx, stateStr, size, offset)
	if err != nil {
		return service.ListResult{}, fmt.Errorf("list tenants: %w", err)
	}

	tenants := make([]service.Tenant, 0, len(rows))
	for _, rec := range rows {
		t, err := r.toServiceTenant(rec)
		if err != nil {
			return service.ListResult{}, err
		}
		tenants = append(tenants, t)
	}

	totalPages := (total + size - 1) / size
	return service.ListResult{Tenants: tenants, Page: page, PageSize: size, TotalItems: total, TotalPages: totalPages}, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	if err := tenant.CheckRecord(t.State, t.Descriptor != nil); err != nil {
		return service.Tenant{}, err
	}

	sealed, version, err := r.seal(t.ID, t.Descriptor)
	if err != nil {
		return service.Tenant{}, err
	}

	out, err := r.store.Create(ctx, persistence.TenantRecord{
		TenantID:             t.ID,
		Identifier:           t.Identifier,
		DisplayName:          t.DisplayName,
		LifecycleState:       string(t.State),
		SchemaName:           t.SchemaName,
		BasePrefix:           t.BasePrefix,
		ShortTenantID:        t.ShortTenantID,
		ConnectionDescriptor: sealed,
		DescriptorVersion:    version,
		CreatedAt:            t.CreatedAt,
	})
	if err != nil {
		return service.Tenant{}, mapWriteError(t.ID, err)
	}
	return r.toServiceTenant(out)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.Tenant{}, tenant.NotFound("", id)
		}
		return service.Tenant{}, fmt.Errorf("get tenant %s: %w", id, err)
	}
	return r.toServiceTenant(rec)
}

func (r *PostgresRepository) FindByIdentifier(ctx context.Context, identifier string) (service.Tenant, error) {
	rec, err := r.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.Tenant{}, tenant.NotFound(identifier, uuid.Nil)
		}
		return service.Tenant{}, fmt.Errorf("find tenant %q: %w", identifier, err)
	}
	return r.toServiceTenant(rec)
}

func (r *PostgresRepository) UpdateLifecycle(ctx context.Context, id uuid.UUID, expectedVersion int64, state tenant.State, d *tenant.Descriptor) (service.Tenant, error) {
	if err := tenant.CheckRecord(state, d != nil); err != nil {
		return service.Tenant{}, err
	}

	sealed, version, err := r.seal(id, d)
	if err != nil {
		return service.Tenant{}, err
	}

	rec, err := r.store.UpdateLifecycle(ctx, id, persistence.LifecycleUpdate{
		ExpectedVersion:      expectedVersion,
		LifecycleState:       string(state),
		ConnectionDescriptor: sealed,
		DescriptorVersion:    version,
		ModifiedAt:           r.now().UTC(),
	})
	switch {
	case errors.Is(err, persistence.ErrVersionConflict):
		return service.Tenant{}, tenant.Conflict(id)
	case errors.Is(err, persistence.ErrNotFound):
		return service.Tenant{}, tenant.NotFound("", id)
	case err != nil:
		return service.Tenant{}, mapWriteError(id, err)
	}
	return r.toServiceTenant(rec)
}

func (r *PostgresRepository) seal(id uuid.UUID, d *tenant.Descriptor) ([]byte, int64, error) {
	if d == nil {
		return nil, 0, nil
	}
	plain, err := json.Marshal(d)
	if err != nil {
		return nil, 0, fmt.Errorf("encode descriptor: %w", err)
	}
	sealed, err := r.sealer.Seal(plain, id[:])
	if err != nil {
		return nil, 0, fmt.Errorf("seal descriptor: %w", err)
	}
	return sealed, d.Version, nil
}

func (r *PostgresRepository) toServiceTenant(rec persistence.TenantRecord) (service.Tenant, error) {
	state, err := tenant.ParseState(rec.LifecycleState)
	if err != nil {
		return service.Tenant{}, fmt.Errorf("tenant %s: %w", rec.TenantID, err)
	}

	var d *tenant.Descriptor
	if rec.ConnectionDescriptor != nil {
		plain, err := r.sealer.Open(rec.ConnectionDescriptor, rec.TenantID[:])
		if err != nil {
			return service.Tenant{}, fmt.Errorf("open descriptor of tenant %s: %w", rec.TenantID, err)
		}
		d = &tenant.Descriptor{}
		if err := json.Unmarshal(plain, d); err != nil {
			return service.Tenant{}, fmt.Errorf("decode descriptor of tenant %s: %w", rec.TenantID, err)
		}
		if d.Version != rec.DescriptorVersion {
			return service.Tenant{}, fmt.Errorf("tenant %s descriptor version %d does not match column %d", rec.TenantID, d.Version, rec.DescriptorVersion)
		}
	}
	if err := tenant.CheckRecord(state, d != nil); err != nil {
		return service.Tenant{}, fmt.Errorf("tenant %s: %w", rec.TenantID, err)
	}

	return service.Tenant{
		ID:             rec.TenantID,
		Identifier:     rec.Identifier,
		DisplayName:    rec.DisplayName,
		State:          state,
		Descriptor:     d,
		SchemaName:     rec.SchemaName,
		BasePrefix:     rec.BasePrefix,
		ShortTenantID:  rec.ShortTenantID,
		Version:        rec.Version,
		CreatedAt:      rec.CreatedAt,
		LastModifiedAt: rec.LastModifiedAt,
	}, nil
}

func mapWriteError(id uuid.UUID, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "23505" && (strings.EqualFold(pgErr.ConstraintName, "tenants_identifier_unique") ||
		strings.EqualFold(pgErr.ConstraintName, "tenants_schema_name_unique")):
		return service.ErrConflictIdentifier
	case pgErr.Code == "23514" && strings.EqualFold(pgErr.ConstraintName, "tenants_descriptor_presence_check"):
		return fmt.Errorf("tenant %s: %w: %s", id, tenant.ErrInvalidRecord, pgErr.Message)
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
