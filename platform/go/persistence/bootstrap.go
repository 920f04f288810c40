package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/palmyra-tenancy/database"
)

// BootstrapAdminSchema creates the admin schema (if missing) and applies the
// tenant registry DDL in a single transaction with search_path set to the
// admin schema. SQL is embedded at build time; the helper is idempotent and
// used by the CLI bootstrap command and tests.
func BootstrapAdminSchema(ctx context.Context, pool *pgxpool.Pool, adminSchema string) error {
	if pool == nil {
		return fmt.Errorf("bootstrap admin schema: pool is required")
	}
	if adminSchema == "" {
		return fmt.Errorf("bootstrap admin schema: admin schema is required")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{adminSchema}.Sanitize()); err != nil {
		return fmt.Errorf("create admin schema: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, pgx.Identifier{adminSchema}.Sanitize()); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	for _, stmt := range SplitStatements(sqlassets.TenantsSQL) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SplitStatements splits a plain DDL/DML script on semicolons. Scripts must
// not contain semicolons inside literals or function bodies.
func SplitStatements(script string) []string {
	raw := strings.Split(script, ";")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if stmt := strings.TrimSpace(r); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
