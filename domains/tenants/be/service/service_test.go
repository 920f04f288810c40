package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

func newActiveTenant(t *testing.T, repo *inMemoryRepo, identifier string) Tenant {
	t.Helper()
	id := uuid.New()
	schema := tenant.BuildSchemaName("dev", tenant.ToSnake(identifier))
	rec := Tenant{
		ID:            id,
		Identifier:    identifier,
		State:         tenant.StateActive,
		SchemaName:    schema,
		BasePrefix:    tenant.BuildBasePrefix("dev", identifier, tenant.ShortID(id)),
		ShortTenantID: tenant.ShortID(id),
		Descriptor:    &tenant.Descriptor{Version: 1, SchemaName: schema, RoleName: tenant.BuildRoleName(schema)},
		Version:       3,
		CreatedAt:     time.Now().UTC(),
	}
	repo.put(rec)
	return rec
}

func TestCreateDerivesNames(t *testing.T) {
	repo := newInMemoryRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := New(repo, "dev", WithClock(func() time.Time { return now }), WithLogger(zaptest.NewLogger(t)))

	created, err := svc.Create(context.Background(), CreateInput{Identifier: "  Acme-Co "})
	require.NoError(t, err)

	require.Equal(t, "acme-co", created.Identifier)
	require.Equal(t, tenant.StatePending, created.State)
	require.Nil(t, created.Descriptor)
	require.Equal(t, "dev__tenant_acme_co", created.SchemaName)
	require.Equal(t, "dev__tenant_acme_co_role", created.RoleName())
	require.Equal(t, "dev/acme-co-"+created.ShortTenantID+"/", created.BasePrefix)
	require.Equal(t, int64(1), created.Version)
	require.Equal(t, now, created.CreatedAt)

	_, err = svc.Create(context.Background(), CreateInput{Identifier: "acme-co"})
	require.ErrorIs(t, err, ErrConflictIdentifier)
}

func TestCreateRejectsInvalidIdentifier(t *testing.T) {
	svc := New(newInMemoryRepo(), "dev")

	for _, identifier := range []string{"", "Acme Co", "-acme", "acme--co", "acme_co"} {
		_, err := svc.Create(context.Background(), CreateInput{Identifier: identifier})
		require.ErrorIs(t, err, ErrInvalidIdentifier, identifier)
	}
}

func TestCreateRejectsNamesPostgresWouldTruncate(t *testing.T) {
	svc := New(newInMemoryRepo(), "staging-eu-west")

	// Both differ only in the last byte, which Postgres would cut off.
	for _, identifier := range []string{strings.Repeat("a", 39) + "1", strings.Repeat("a", 39) + "2"} {
		_, err := svc.Create(context.Background(), CreateInput{Identifier: identifier})
		require.ErrorIs(t, err, ErrInvalidIdentifier)
		require.ErrorContains(t, err, "limit is 63")
	}

	created, err := svc.Create(context.Background(), CreateInput{Identifier: "acme"})
	require.NoError(t, err)
	require.LessOrEqual(t, len(created.RoleName()), tenant.MaxIdentifierLength)
}

func TestLongestSlugFitsUnderLongestEnvKey(t *testing.T) {
	envKey := strings.Repeat("e", tenant.MaxEnvKeyLength(persistence.MaxSlugLength))
	require.NoError(t, ValidateEnvKey(envKey))
	require.ErrorContains(t, ValidateEnvKey(envKey+"e"), "limit is 9")
	require.Error(t, ValidateEnvKey(" "))

	svc := New(newInMemoryRepo(), envKey)
	created, err := svc.Create(context.Background(), CreateInput{Identifier: strings.Repeat("z", persistence.MaxSlugLength)})
	require.NoError(t, err)
	require.Len(t, created.RoleName(), tenant.MaxIdentifierLength)
}

func TestLookupByIdentifier(t *testing.T) {
	repo := newInMemoryRepo()
	svc := New(repo, "dev")
	rec := newActiveTenant(t, repo, "acme")

	entry, err := svc.LookupByIdentifier(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, rec.ID, entry.ID)
	require.Equal(t, tenant.StateActive, entry.State)
	require.Equal(t, rec.Descriptor, entry.Descriptor)

	_, err = svc.LookupByIdentifier(context.Background(), "ghost")
	require.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

func TestSuspendEvictsAndReactivateKeepsDescriptor(t *testing.T) {
	repo := newInMemoryRepo()
	evictor := &recordingEvictor{}
	svc := New(repo, "dev", WithEvictor(evictor), WithLogger(zaptest.NewLogger(t)))
	rec := newActiveTenant(t, repo, "beta")

	suspended, err := svc.Suspend(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateSuspended, suspended.State)
	require.Equal(t, rec.Descriptor, suspended.Descriptor)
	require.Equal(t, rec.Version+1, suspended.Version)
	require.Equal(t, []uuid.UUID{rec.ID}, evictor.evicted)

	active, err := svc.Reactivate(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateActive, active.State)
	require.Equal(t, rec.Descriptor, active.Descriptor)
	require.Equal(t, 1, evictor.count())
}

func TestDeactivateAndDeleteClearDescriptor(t *testing.T) {
	repo := newInMemoryRepo()
	evictor := &recordingEvictor{}
	svc := New(repo, "dev", WithEvictor(evictor))
	rec := newActiveTenant(t, repo, "gamma")

	deactivated, err := svc.Deactivate(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateDeactivated, deactivated.State)
	require.Nil(t, deactivated.Descriptor)
	require.Equal(t, rec.SchemaName, deactivated.SchemaName)
	require.Equal(t, 1, evictor.count())

	_, err = svc.Reactivate(context.Background(), rec.ID)
	require.ErrorIs(t, err, tenant.ErrInvalidTransition)

	deleted, err := svc.Delete(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateDeleted, deleted.State)
	require.Nil(t, deleted.Descriptor)

	for _, op := range []func(context.Context, uuid.UUID) (Tenant, error){svc.Suspend, svc.Reactivate, svc.Deactivate} {
		_, err := op(context.Background(), rec.ID)
		require.ErrorIs(t, err, tenant.ErrInvalidTransition)
	}
}

func TestReapplyingCurrentStateIsNoop(t *testing.T) {
	repo := newInMemoryRepo()
	evictor := &recordingEvictor{}
	svc := New(repo, "dev", WithEvictor(evictor))
	rec := newActiveTenant(t, repo, "delta")

	_, err := svc.Suspend(context.Background(), rec.ID)
	require.NoError(t, err)
	updatesBefore := repo.updates

	again, err := svc.Suspend(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateSuspended, again.State)
	require.Equal(t, rec.Version+1, again.Version)
	require.Equal(t, updatesBefore, repo.updates)
	require.Equal(t, 1, evictor.count())
}

func TestPendingBecomesActiveOnlyThroughProvisioning(t *testing.T) {
	repo := newInMemoryRepo()
	svc := New(repo, "dev")

	created, err := svc.Create(context.Background(), CreateInput{Identifier: "epsilon"})
	require.NoError(t, err)

	d := &tenant.Descriptor{Version: 1, SchemaName: created.SchemaName, RoleName: created.RoleName()}
	_, err = svc.UpdateLifecycleState(context.Background(), created.ID, tenant.StateActive, d)
	require.ErrorIs(t, err, tenant.ErrInvalidTransition)

	_, err = svc.Suspend(context.Background(), created.ID)
	require.ErrorIs(t, err, tenant.ErrInvalidTransition)

	// Abandoned signups can be deleted without ever activating.
	deleted, err := svc.Delete(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateDeleted, deleted.State)
}

func TestUpdateLifecycleStateRejectsUnknownState(t *testing.T) {
	repo := newInMemoryRepo()
	svc := New(repo, "dev")
	rec := newActiveTenant(t, repo, "zeta")

	_, err := svc.UpdateLifecycleState(context.Background(), rec.ID, tenant.State("archived"), nil)
	require.Equal(t, tenant.KindInvalidState, tenant.KindOf(err))
}

func TestUpdateRetriesLostRaces(t *testing.T) {
	repo := newInMemoryRepo()
	svc := New(repo, "dev", WithConflictRetries(3))
	rec := newActiveTenant(t, repo, "eta")

	repo.conflicts = 2
	suspended, err := svc.Suspend(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateSuspended, suspended.State)
	require.Equal(t, 3, repo.updates)
}

func TestUpdateGivesUpAfterConflictRetries(t *testing.T) {
	repo := newInMemoryRepo()
	svc := New(repo, "dev", WithConflictRetries(2))
	rec := newActiveTenant(t, repo, "theta")

	repo.conflicts = 5
	_, err := svc.Suspend(context.Background(), rec.ID)
	require.ErrorIs(t, err, tenant.ErrDirectoryUpdateConflict)

	var te *tenant.Error
	require.ErrorAs(t, err, &te)
	require.True(t, te.Retryable())

	current, err := svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateActive, current.State)
}

func TestDescriptorRotation(t *testing.T) {
	repo := newInMemoryRepo()
	evictor := &recordingEvictor{}
	svc := New(repo, "dev", WithEvictor(evictor))
	rec := newActiveTenant(t, repo, "iota")

	rotated := *rec.Descriptor
	rotated.Version = 2
	rotated.DSN = "postgres://replica.internal/palmyra"

	updated, err := svc.UpdateLifecycleState(context.Background(), rec.ID, tenant.StateActive, &rotated)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Descriptor.Version)
	require.Equal(t, 1, evictor.count())

	stale := rotated
	stale.Version = 1
	_, err = svc.UpdateLifecycleState(context.Background(), rec.ID, tenant.StateActive, &stale)
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestListFiltersByState(t *testing.T) {
	repo := newInMemoryRepo()
	svc := New(repo, "dev")
	newActiveTenant(t, repo, "kappa")
	_, err := svc.Create(context.Background(), CreateInput{Identifier: "lambda"})
	require.NoError(t, err)

	pending := tenant.StatePending
	res, err := svc.List(context.Background(), ListOptions{State: &pending})
	require.NoError(t, err)
	require.Len(t, res.Tenants, 1)
	require.Equal(t, "lambda", res.Tenants[0].Identifier)

	bogus := tenant.State("bogus")
	_, err = svc.List(context.Background(), ListOptions{State: &bogus})
	require.Error(t, err)
}

func TestGetMissingTenant(t *testing.T) {
	svc := New(newInMemoryRepo(), "dev")
	_, err := svc.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
