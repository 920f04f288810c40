package repo

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence/pgtest"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/secrets"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

const testAdminSchema = "tenant_admin"

func newPostgresRepository(t *testing.T) (*PostgresRepository, *persistence.TenantStore) {
	t.Helper()
	ctx := context.Background()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: pgtest.DatabaseURL(t)})
	require.NoError(t, err)
	t.Cleanup(func() { persistence.ClosePool(pool) })
	require.NoError(t, persistence.BootstrapAdminSchema(ctx, pool, testAdminSchema))

	store, err := persistence.NewTenantStore(ctx, pool, testAdminSchema)
	require.NoError(t, err)

	sealer, err := secrets.NewSealer(bytes.Repeat([]byte{0x07}, secrets.MinMasterKeySize), DescriptorPurpose)
	require.NoError(t, err)

	return NewPostgresRepository(store, sealer), store
}

func TestPostgresRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	r, store := newPostgresRepository(t)

	identifier := "acme-" + uuid.NewString()[:6]
	created, err := r.Create(ctx, pendingTenant(identifier, time.Now().UTC().Truncate(time.Microsecond)))
	require.NoError(t, err)
	require.Equal(t, tenant.StatePending, created.State)
	require.Nil(t, created.Descriptor)

	_, err = r.Create(ctx, pendingTenant(identifier, time.Now().UTC()))
	require.ErrorIs(t, err, service.ErrConflictIdentifier)

	d := descriptorFor(created, 1)
	d.DSN = "postgres://tenant-db.internal/palmyra?sslmode=require"
	active, err := r.UpdateLifecycle(ctx, created.ID, created.Version, tenant.StateActive, d)
	require.NoError(t, err)
	require.Equal(t, tenant.StateActive, active.State)
	require.Equal(t, d, active.Descriptor)

	// The stored descriptor is sealed.
	raw, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotContains(t, string(raw.ConnectionDescriptor), "tenant-db.internal")
	require.Equal(t, int64(1), raw.DescriptorVersion)

	found, err := r.FindByIdentifier(ctx, identifier)
	require.NoError(t, err)
	require.Equal(t, d, found.Descriptor)

	_, err = r.UpdateLifecycle(ctx, created.ID, created.Version, tenant.StateSuspended, d)
	require.ErrorIs(t, err, tenant.ErrDirectoryUpdateConflict)

	deleted, err := r.UpdateLifecycle(ctx, created.ID, active.Version, tenant.StateDeleted, nil)
	require.NoError(t, err)
	require.Nil(t, deleted.Descriptor)
	require.Equal(t, created.SchemaName, deleted.SchemaName)

	_, err = r.Get(ctx, uuid.New())
	require.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

func TestPostgresRepositoryRejectsMovedDescriptor(t *testing.T) {
	ctx := context.Background()
	r, store := newPostgresRepository(t)

	a, err := r.Create(ctx, pendingTenant("a-"+uuid.NewString()[:6], time.Now().UTC()))
	require.NoError(t, err)
	b, err := r.Create(ctx, pendingTenant("b-"+uuid.NewString()[:6], time.Now().UTC()))
	require.NoError(t, err)

	_, err = r.UpdateLifecycle(ctx, a.ID, a.Version, tenant.StateActive, descriptorFor(a, 1))
	require.NoError(t, err)

	sealedA, err := store.Get(ctx, a.ID)
	require.NoError(t, err)

	// Copy a's sealed blob onto b directly at the store level.
	_, err = store.UpdateLifecycle(ctx, b.ID, persistence.LifecycleUpdate{
		ExpectedVersion:      b.Version,
		LifecycleState:       string(tenant.StateActive),
		ConnectionDescriptor: sealedA.ConnectionDescriptor,
		DescriptorVersion:    1,
		ModifiedAt:           time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = r.Get(ctx, b.ID)
	require.Error(t, err)
}
