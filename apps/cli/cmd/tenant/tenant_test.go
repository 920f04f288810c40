package tenantcmd

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence/pgtest"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	cmd := Command()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{
		"create", "provision", "status", "show", "list",
		"suspend", "reactivate", "deactivate", "delete",
	}, names)

	for _, flag := range []string{"database-url", "tenant-database-url", "env-key", "admin-schema", "descriptor-key", "storage-backend"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestMissingSettings(t *testing.T) {
	_, err := execute(t, "show", "acme", "--database-url", "", "--descriptor-key", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "--database-url")
	require.Contains(t, err.Error(), "--descriptor-key")
}

func TestEnvKeyMustLeaveRoomForSlugs(t *testing.T) {
	_, err := execute(t, "show", "acme", "--database-url", "postgres://localhost/palmyra",
		"--descriptor-key", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=", "--env-key", "staging-eu-west")
	require.ErrorContains(t, err, "--env-key")
	require.ErrorContains(t, err, "limit is 9")
}

func TestArgumentValidation(t *testing.T) {
	_, err := execute(t, "list", "--state", "archived")
	require.Error(t, err)
	require.Equal(t, tenant.KindInvalidState, tenant.KindOf(err))

	_, err = execute(t, "list", "--page", "0")
	require.ErrorContains(t, err, "must be positive")

	_, err = execute(t, "suspend")
	require.Error(t, err)

	_, err = execute(t, "create")
	require.ErrorContains(t, err, "identifier")
}

func TestTenantLifecycleAgainstPostgres(t *testing.T) {
	dbURL := pgtest.DatabaseURL(t)
	ctx := context.Background()

	envKey := "c" + tenant.ShortID(uuid.New())
	adminSchema := envKey + "_admin"

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: dbURL})
	require.NoError(t, err)
	t.Cleanup(func() { persistence.ClosePool(pool) })
	require.NoError(t, persistence.BootstrapAdminSchema(ctx, pool, adminSchema))

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)

	common := []string{
		"--database-url", dbURL,
		"--env-key", envKey,
		"--admin-schema", adminSchema,
		"--descriptor-key", base64.StdEncoding.EncodeToString(key),
		"--storage-backend", "local",
		"--storage-local-dir", t.TempDir(),
	}
	run := func(args ...string) (string, error) {
		return execute(t, append(args, common...)...)
	}

	out, err := run("create", "--identifier", "acme", "--display-name", "Acme")
	require.NoError(t, err)
	require.Contains(t, out, "pending")
	require.Contains(t, out, envKey+"__tenant_acme")

	out, err = run("status", "acme")
	require.NoError(t, err)
	require.Contains(t, out, "missing")

	out, err = run("provision", "acme")
	require.NoError(t, err)
	require.Regexp(t, `State:\s+active`, out)
	require.Regexp(t, `Descriptor version:\s+1`, out)

	// Re-running against an active tenant is a no-op.
	_, err = run("provision", "acme")
	require.NoError(t, err)

	out, err = run("status", "acme")
	require.NoError(t, err)
	require.Regexp(t, `Storage:\s+ready`, out)
	require.NotContains(t, out, "missing")

	out, err = run("suspend", "acme")
	require.NoError(t, err)
	require.Regexp(t, `State:\s+suspended`, out)

	out, err = run("list", "--state", "suspended")
	require.NoError(t, err)
	require.Contains(t, out, "acme")
	require.Contains(t, out, "1 tenants total")

	_, err = run("reactivate", "acme")
	require.NoError(t, err)
	_, err = run("deactivate", "acme")
	require.NoError(t, err)

	_, err = run("reactivate", "acme")
	var te *tenant.Error
	require.True(t, errors.As(err, &te), "%v", err)
	require.Equal(t, tenant.KindInvalidTransition, te.Kind)

	out, err = run("delete", "acme")
	require.NoError(t, err)
	require.Regexp(t, `State:\s+deleted`, out)
	require.Regexp(t, `Descriptor version:\s+-`, out)

	_, err = run("show", "nobody")
	require.ErrorIs(t, err, tenant.ErrTenantNotFound)

	out, err = run("create", "--identifier", "globex", "--provision")
	require.NoError(t, err)
	require.True(t, strings.Contains(out, "active"), out)
}
