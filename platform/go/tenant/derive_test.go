package tenant

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNamingHelpers(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("3f2a9c10-1111-2222-3333-444455556666")
	schema := BuildSchemaName("dev", ToSnake("Acme-Co"))

	require.Equal(t, "dev__tenant_acme_co", schema)
	require.Equal(t, "dev__tenant_acme_co_role", BuildRoleName(schema))
	require.Equal(t, "3f2a9c10", ShortID(id))
	require.Equal(t, "dev/acme-co-3f2a9c10/", BuildBasePrefix("dev/", "acme-co", ShortID(id)))
}

func TestStoreNamesFitPostgresIdentifiers(t *testing.T) {
	t.Parallel()

	const maxSlug = 40
	envKey := strings.Repeat("e", MaxEnvKeyLength(maxSlug))
	longest := BuildSchemaName(envKey, strings.Repeat("a", maxSlug))

	require.Equal(t, 9, MaxEnvKeyLength(maxSlug))
	require.NoError(t, CheckStoreNames(longest))
	require.Len(t, BuildRoleName(longest), MaxIdentifierLength)

	tooLong := BuildSchemaName(envKey+"x", strings.Repeat("a", maxSlug))
	require.ErrorContains(t, CheckStoreNames(tooLong), "limit is 63")
}

func TestResolvedRoundTripsThroughContext(t *testing.T) {
	t.Parallel()

	_, ok := FromContext(t.Context())
	require.False(t, ok)

	want := Resolved{TenantID: uuid.New(), Identifier: "acme", Descriptor: Descriptor{Version: 1, SchemaName: "s", RoleName: "r"}}
	got, ok := FromContext(WithResolved(t.Context(), want))
	require.True(t, ok)
	require.Equal(t, want, got)
}
