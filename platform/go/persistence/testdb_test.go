package persistence

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence/pgtest"
)

const testAdminSchema = "tenant_admin"

// mustTestPool opens a pool against the test database with the admin schema bootstrapped.
func mustTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	pool, err := NewPool(ctx, PoolConfig{ConnString: pgtest.DatabaseURL(t)})
	require.NoError(t, err)
	t.Cleanup(func() { ClosePool(pool) })

	require.NoError(t, BootstrapAdminSchema(ctx, pool, testAdminSchema))
	return pool
}
