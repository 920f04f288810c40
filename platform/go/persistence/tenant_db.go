package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is satisfied by *pgxpool.Pool, *pgx.Conn and tenant connection handles.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TenantScope names the schema and role a transaction is confined to.
type TenantScope struct {
	SchemaName string
	RoleName   string
}

func (s TenantScope) validate() error {
	if strings.TrimSpace(s.RoleName) == "" {
		return errors.New("tenant role is required in tenant scope")
	}
	if strings.TrimSpace(s.SchemaName) == "" {
		return errors.New("tenant schema is required in tenant scope")
	}
	return nil
}

// WithTenantScope runs fn in a transaction that has assumed the tenant role and
// sees only the tenant schema. Both settings are transaction-local, so the
// pooled connection returns clean.
func WithTenantScope(ctx context.Context, db TxBeginner, scope TenantScope, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	if err := scope.validate(); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL ROLE %s", pgx.Identifier{scope.RoleName}.Sanitize())); err != nil {
		return fmt.Errorf("set role: %w", err)
	}

	if _, err = tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, pgx.Identifier{scope.SchemaName}.Sanitize()); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// WithAdmin runs fn in a transaction whose search_path is the admin schema only.
// No role switching is performed; the connection's identity applies.
func WithAdmin(ctx context.Context, db TxBeginner, adminSchema string, fn func(tx pgx.Tx) error) error {
	if strings.TrimSpace(adminSchema) == "" {
		return errors.New("admin schema is required")
	}

	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, pgx.Identifier{adminSchema}.Sanitize()); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
