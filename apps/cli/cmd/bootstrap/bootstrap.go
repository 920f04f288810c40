package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
)

// DefaultAdminSchema matches the API server default.
const DefaultAdminSchema = "tenant_admin"

// Command groups bootstrap helpers for the tenant directory.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap the tenant directory",
		Long:  "Create or verify the admin schema holding the tenant directory.",
	}

	cmd.AddCommand(adminSchemaCommand(), checkCommand())
	return cmd
}

func adminSchemaCommand() *cobra.Command {
	var databaseURL, adminSchema string

	c := &cobra.Command{
		Use:   "admin-schema",
		Short: "Create the admin schema and apply the tenant directory DDL (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapAdminSchema(ctx, pool, strings.TrimSpace(adminSchema)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admin schema %q is ready.\n", adminSchema)
			return nil
		},
	}

	bindFlags(c, &databaseURL, &adminSchema)
	return c
}

func checkCommand() *cobra.Command {
	var databaseURL, adminSchema string

	c := &cobra.Command{
		Use:   "check",
		Short: "Verify the admin schema and tenants table exist without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			if err := ensureAdminSchemaReady(ctx, pool, adminSchema); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admin schema %q is ready.\n", adminSchema)
			return nil
		},
	}

	bindFlags(c, &databaseURL, &adminSchema)
	return c
}

func bindFlags(c *cobra.Command, databaseURL, adminSchema *string) {
	c.Flags().StringVar(databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (default $DATABASE_URL)")
	c.Flags().StringVar(adminSchema, "admin-schema", DefaultAdminSchema, "Admin schema name for the tenant directory")
}

func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required (--database-url or DATABASE_URL)")
	}
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}
	return pool, nil
}

// ensureAdminSchemaReady verifies the admin schema and tenants table exist. It does not create them.
func ensureAdminSchemaReady(ctx context.Context, pool *pgxpool.Pool, adminSchema string) error {
	adminSchema = strings.TrimSpace(adminSchema)
	if adminSchema == "" {
		return fmt.Errorf("admin schema is required")
	}

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`, adminSchema).Scan(&exists); err != nil {
		return fmt.Errorf("check admin schema: %w", err)
	}
	if !exists {
		return fmt.Errorf("admin schema %q not found (run bootstrap admin-schema first)", adminSchema)
	}

	if err := pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1
            FROM pg_class c
            JOIN pg_namespace n ON n.oid = c.relnamespace
            WHERE n.nspname = $1 AND c.relname = 'tenants' AND c.relkind = 'r'
        )`, adminSchema).Scan(&exists); err != nil {
		return fmt.Errorf("check tenants table: %w", err)
	}
	if !exists {
		return fmt.Errorf("tenants table not found in admin schema %q (run bootstrap admin-schema first)", adminSchema)
	}

	return nil
}
