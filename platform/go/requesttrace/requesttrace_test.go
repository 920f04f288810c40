package requesttrace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

func TestIntoContextAndFromContext(t *testing.T) {
	audit := System("req-abc")

	ctx := IntoContext(context.Background(), audit)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, audit, got)
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	audit := FromContextOrAnonymous(context.Background())
	require.Equal(t, ActorKindAnonymous, audit.ActorKind)
}

func TestWithTenant(t *testing.T) {
	id := uuid.New()
	audit := Anonymous("req-xyz").WithTenant(tenant.Resolved{TenantID: id, Identifier: "acme"})

	require.Equal(t, ActorKindAnonymous, audit.ActorKind)
	require.NotNil(t, audit.TenantID)
	require.Equal(t, id, *audit.TenantID)
	require.Equal(t, "acme", audit.TenantIdentifier)
	require.Equal(t, "req-xyz", audit.RequestID)
}

func TestSystem(t *testing.T) {
	audit := System("req-sys")
	require.Equal(t, ActorKindSystem, audit.ActorKind)
	require.Nil(t, audit.TenantID)
}
