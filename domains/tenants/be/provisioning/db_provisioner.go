package provisioning

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/palmyra-tenancy/database"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// DBProvisioner creates per-tenant login roles, schemas and grants on the
// data-plane database, then applies the baseline migrations and seed data
// connected as the tenant role. The provisioning user is never left a member
// of any tenant role.
type DBProvisioner struct {
	pool *pgxpool.Pool
	// baseDSN locates the data-plane database in descriptors; the tenant
	// role's credentials replace its user and password.
	baseDSN    string
	migrations []sqlassets.Migration
}

// NewDBProvisioner returns a provisioner operating through pool. The pool's
// user must be allowed to create roles and schemas. An empty descriptorDSN
// means tenants connect to the same server and database as pool.
func NewDBProvisioner(pool *pgxpool.Pool, descriptorDSN string) (*DBProvisioner, error) {
	if pool == nil {
		return nil, errors.New("db provisioner requires pool")
	}
	migrations, err := sqlassets.TenantMigrations()
	if err != nil {
		return nil, fmt.Errorf("load tenant migrations: %w", err)
	}
	base := strings.TrimSpace(descriptorDSN)
	if base == "" {
		base = pool.Config().ConnString()
	}
	return &DBProvisioner{pool: pool, baseDSN: base, migrations: migrations}, nil
}

// Allocate creates the tenant role and schema if missing, sets a fresh
// password on the role and returns the descriptor carrying it.
func (p *DBProvisioner) Allocate(ctx context.Context, req service.StoreRequest) (tenant.Descriptor, error) {
	if req.RoleName == "" || req.SchemaName == "" {
		return tenant.Descriptor{}, errors.New("role and schema required")
	}
	if err := tenant.CheckStoreNames(req.SchemaName); err != nil {
		return tenant.Descriptor{}, err
	}

	password, err := newRolePassword()
	if err != nil {
		return tenant.Descriptor{}, err
	}
	dsn, err := loginDSN(p.baseDSN, req.RoleName, password)
	if err != nil {
		return tenant.Descriptor{}, err
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return tenant.Descriptor{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	role := pgx.Identifier{req.RoleName}.Sanitize()
	schema := pgx.Identifier{req.SchemaName}.Sanitize()

	// Concurrent CREATE ROLE for the same name races on pg_authid; serialize per role.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", req.RoleName); err != nil {
		return tenant.Descriptor{}, fmt.Errorf("lock role: %w", err)
	}

	// Create tenant role only if missing to avoid aborting the transaction.
	var roleExists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", req.RoleName).Scan(&roleExists); err != nil {
		return tenant.Descriptor{}, fmt.Errorf("check role existence: %w", err)
	}
	// password is hex, so it needs no escaping inside the literal.
	createRole := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s'", role, password)
	if roleExists {
		createRole = fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD '%s'", role, password)
	}
	if _, err := tx.Exec(ctx, createRole); err != nil {
		return tenant.Descriptor{}, fmt.Errorf("create role: %w", err)
	}

	stmts := []struct {
		sql  string
		what string
	}{
		// Membership is needed to hand the schema to the role and is dropped
		// again before commit.
		{fmt.Sprintf("GRANT %s TO CURRENT_USER", role), "grant tenant role to provisioner"},
		{fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s AUTHORIZATION %s", schema, role), "create schema"},
		{fmt.Sprintf("REVOKE ALL ON SCHEMA %s FROM PUBLIC", schema), "revoke public schema access"},
		// Check reads the migration ledger as the provisioning user.
		{fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO CURRENT_USER", schema), "grant ledger access"},
		{fmt.Sprintf("REVOKE %s FROM CURRENT_USER", role), "revoke tenant role from provisioner"},
	}
	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s.sql); err != nil {
			return tenant.Descriptor{}, fmt.Errorf("%s: %w", s.what, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return tenant.Descriptor{}, fmt.Errorf("commit: %w", err)
	}

	return tenant.Descriptor{
		Version:       1,
		DSN:           dsn,
		SchemaName:    req.SchemaName,
		RoleName:      req.RoleName,
		StoragePrefix: req.StoragePrefix,
	}, nil
}

// ApplySchema applies the embedded tenant migrations that the tenant's
// schema_migrations ledger does not list yet. Runs as the tenant role.
func (p *DBProvisioner) ApplySchema(ctx context.Context, d tenant.Descriptor) error {
	var provisioner string
	if err := p.pool.QueryRow(ctx, "SELECT current_user").Scan(&provisioner); err != nil {
		return fmt.Errorf("read provisioning user: %w", err)
	}

	return p.asTenant(ctx, d, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", d.SchemaName+"/migrations"); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version    TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}
		if _, err := tx.Exec(ctx, "GRANT SELECT ON schema_migrations TO "+pgx.Identifier{provisioner}.Sanitize()); err != nil {
			return fmt.Errorf("grant schema_migrations: %w", err)
		}

		applied, err := appliedMigrations(ctx, tx)
		if err != nil {
			return err
		}

		for _, m := range p.migrations {
			if applied[m.Version] {
				continue
			}
			for _, stmt := range persistence.SplitStatements(m.SQL) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("migration %s: %w", m.Version, err)
				}
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
				return fmt.Errorf("record migration %s: %w", m.Version, err)
			}
		}
		return nil
	})
}

// Seed inserts the baseline reference data. Existing rows are left untouched.
func (p *DBProvisioner) Seed(ctx context.Context, d tenant.Descriptor) error {
	return p.asTenant(ctx, d, func(tx pgx.Tx) error {
		for _, stmt := range persistence.SplitStatements(sqlassets.TenantSeedSQL) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
		}
		return nil
	})
}

// asTenant runs fn on a short-lived connection logged in with the
// descriptor's credentials.
func (p *DBProvisioner) asTenant(ctx context.Context, d tenant.Descriptor, fn func(tx pgx.Tx) error) error {
	if strings.TrimSpace(d.DSN) == "" {
		return errors.New("descriptor carries no tenant credentials")
	}
	conn, err := pgx.Connect(ctx, d.DSN)
	if err != nil {
		return fmt.Errorf("connect as tenant role: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx)) // nolint:errcheck

	return persistence.WithTenantScope(ctx, conn, scopeOf(d), pgx.TxOptions{}, fn)
}

// Check reports how far provisioning of the tenant's store has progressed.
// It is read-only.
func (p *DBProvisioner) Check(ctx context.Context, req service.StoreRequest) (service.StoreStatus, error) {
	status := service.StoreStatus{TotalMigrations: len(p.migrations)}
	if req.RoleName == "" || req.SchemaName == "" {
		return status, errors.New("role and schema required")
	}

	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1),
		       EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $2)`,
		req.RoleName, req.SchemaName,
	).Scan(&status.RoleExists, &status.SchemaExists)
	if err != nil {
		return status, fmt.Errorf("check role and schema: %w", err)
	}
	if !status.SchemaExists {
		return status, nil
	}

	ledger := pgx.Identifier{req.SchemaName, "schema_migrations"}.Sanitize()
	var hasLedger bool
	if err := p.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", ledger).Scan(&hasLedger); err != nil {
		return status, fmt.Errorf("check schema_migrations: %w", err)
	}
	if !hasLedger {
		return status, nil
	}

	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+ledger).Scan(&status.AppliedMigrations); err != nil {
		return status, fmt.Errorf("count applied migrations: %w", err)
	}
	return status, nil
}

// Lock takes a session-level advisory lock for the tenant so only one
// process provisions it at a time.
func (p *DBProvisioner) Lock(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	key := lockKey(tenantID)
	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, tenant.AlreadyProvisioning(tenantID)
	}

	return func() {
		// The caller's context may be done by now.
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
			// Closing the connection releases the lock.
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}

func appliedMigrations(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func scopeOf(d tenant.Descriptor) persistence.TenantScope {
	return persistence.TenantScope{SchemaName: d.SchemaName, RoleName: d.RoleName}
}

func lockKey(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}

var (
	_ service.StoreProvisioner = (*DBProvisioner)(nil)
	_ service.Locker           = (*DBProvisioner)(nil)
)
