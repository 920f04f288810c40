package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantRecord is one row of the tenant registry. ConnectionDescriptor holds
// sealed bytes; the store never sees the plaintext.
type TenantRecord struct {
	TenantID             uuid.UUID `db:"tenant_id"`
	Identifier           string    `db:"identifier"`
	DisplayName          *string   `db:"display_name"`
	LifecycleState       string    `db:"lifecycle_state"`
	SchemaName           string    `db:"schema_name"`
	BasePrefix           string    `db:"base_prefix"`
	ShortTenantID        string    `db:"short_tenant_id"`
	ConnectionDescriptor []byte    `db:"connection_descriptor"`
	DescriptorVersion    int64     `db:"descriptor_version"`
	Version              int64     `db:"version"`
	CreatedAt            time.Time `db:"created_at"`
	LastModifiedAt       time.Time `db:"last_modified_at"`
}

// LifecycleUpdate is the compare-and-swap payload for a lifecycle change.
type LifecycleUpdate struct {
	ExpectedVersion      int64
	LifecycleState       string
	ConnectionDescriptor []byte
	DescriptorVersion    int64
	ModifiedAt           time.Time
}

const tenantColumns = `tenant_id, identifier, display_name, lifecycle_state, schema_name,
        base_prefix, short_tenant_id, connection_descriptor, descriptor_version, version,
        created_at, last_modified_at`

// TenantStore provides access to the tenants table in the admin schema.
type TenantStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewTenantStore creates a store; assumes BootstrapAdminSchema already created the table.
func NewTenantStore(ctx context.Context, pool *pgxpool.Pool, adminSchema string) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	adminSchema = strings.TrimSpace(adminSchema)
	if adminSchema == "" {
		return nil, errors.New("admin schema is required")
	}
	return &TenantStore{pool: pool, table: pgx.Identifier{adminSchema, "tenants"}.Sanitize()}, nil
}

// Create inserts a new tenant row at version 1.
func (s *TenantStore) Create(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if rec.TenantID == uuid.Nil {
		return TenantRecord{}, errors.New("tenant id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (
            tenant_id, identifier, display_name, lifecycle_state, schema_name,
            base_prefix, short_tenant_id, connection_descriptor, descriptor_version, version,
            created_at, last_modified_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1,$10,$10)
        RETURNING %s
    `, s.table, tenantColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.TenantID, rec.Identifier, rec.DisplayName, rec.LifecycleState, rec.SchemaName,
		rec.BasePrefix, rec.ShortTenantID, rec.ConnectionDescriptor, rec.DescriptorVersion, rec.CreatedAt,
	)

	return scanTenantRecord(row)
}

// Get fetches a tenant by id.
func (s *TenantStore) Get(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1`, tenantColumns, s.table)
	return scanTenantRecord(s.pool.QueryRow(ctx, query, id))
}

// GetByIdentifier fetches a tenant by its public identifier.
func (s *TenantStore) GetByIdentifier(ctx context.Context, identifier string) (TenantRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE identifier = $1`, tenantColumns, s.table)
	return scanTenantRecord(s.pool.QueryRow(ctx, query, identifier))
}

// UpdateLifecycle atomically replaces state and descriptor when the row is
// still at upd.ExpectedVersion. A lost race returns ErrVersionConflict.
func (s *TenantStore) UpdateLifecycle(ctx context.Context, id uuid.UUID, upd LifecycleUpdate) (TenantRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s
        SET lifecycle_state = $3,
            connection_descriptor = $4,
            descriptor_version = $5,
            version = version + 1,
            last_modified_at = $6
        WHERE tenant_id = $1 AND version = $2
        RETURNING %s
    `, s.table, tenantColumns)

	rec, err := scanTenantRecord(s.pool.QueryRow(ctx, query,
		id, upd.ExpectedVersion, upd.LifecycleState, upd.ConnectionDescriptor, upd.DescriptorVersion, upd.ModifiedAt,
	))
	if !errors.Is(err, ErrNotFound) {
		return rec, err
	}

	var exists bool
	existsQuery := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE tenant_id = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, existsQuery, id).Scan(&exists); err != nil {
		return TenantRecord{}, fmt.Errorf("check tenant existence: %w", err)
	}
	if exists {
		return TenantRecord{}, ErrVersionConflict
	}
	return TenantRecord{}, ErrNotFound
}

// List returns tenants newest first with an optional lifecycle filter.
func (s *TenantStore) List(ctx context.Context, state *string, limit, offset int) ([]TenantRecord, int, error) {
	where := ""
	args := []any{}
	if state != nil {
		where = "WHERE lifecycle_state = $1"
		args = append(args, *state)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", s.table, where)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s
        ORDER BY created_at DESC
        LIMIT %d OFFSET %d`, tenantColumns, s.table, where, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []TenantRecord
	for rows.Next() {
		rec, err := scanTenantRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	if err := row.Scan(&rec.TenantID, &rec.Identifier, &rec.DisplayName, &rec.LifecycleState, &rec.SchemaName,
		&rec.BasePrefix, &rec.ShortTenantID, &rec.ConnectionDescriptor, &rec.DescriptorVersion, &rec.Version,
		&rec.CreatedAt, &rec.LastModifiedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrNotFound
		}
		return TenantRecord{}, err
	}
	return rec, nil
}

var (
	// ErrNotFound is returned when a tenant record is not found.
	ErrNotFound = errors.New("tenant not found")
	// ErrVersionConflict is returned when a compare-and-swap loses to a concurrent writer.
	ErrVersionConflict = errors.New("tenant version conflict")
)
