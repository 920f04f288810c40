package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// fakeTx satisfies pgx.Tx and records Exec statements invoked.
type fakeTx struct {
	stmts      []string
	args       [][]any
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeTx) Commit(ctx context.Context) error { f.committed = true; return nil }
func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}
func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (f *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return &pgconn.StatementDescription{}, errors.New("not implemented")
}
func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, nil
}
func (f *fakeTx) Conn() *pgx.Conn { return nil }

// fakePool returns a preconstructed transaction.
type fakePool struct {
	tx   *fakeTx
	opts pgx.TxOptions
	err  error
}

func (p *fakePool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	p.opts = txOptions
	if p.err != nil {
		return nil, p.err
	}
	return p.tx, nil
}

func TestWithAdminSetsOnlySearchPath(t *testing.T) {
	ftx := &fakeTx{}

	err := WithAdmin(context.Background(), &fakePool{tx: ftx}, "admin", func(tx pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.Len(t, ftx.stmts, 1)
	require.Contains(t, ftx.stmts[0], "set_config('search_path'")
	require.Equal(t, []any{`"admin"`}, ftx.args[0])
	require.True(t, ftx.committed)
}

func TestWithTenantScopeSetsRoleAndSearchPath(t *testing.T) {
	ftx := &fakeTx{}
	pool := &fakePool{tx: ftx}
	scope := TenantScope{SchemaName: "dev__tenant_acme", RoleName: "dev__tenant_acme_role"}

	err := WithTenantScope(context.Background(), pool, scope, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.Len(t, ftx.stmts, 2)
	require.Equal(t, `SET LOCAL ROLE "dev__tenant_acme_role"`, ftx.stmts[0])
	require.Contains(t, ftx.stmts[1], "set_config('search_path', $1, true)")
	require.Equal(t, []any{`"dev__tenant_acme"`}, ftx.args[1])
	require.Equal(t, pgx.ReadOnly, pool.opts.AccessMode)
	require.True(t, ftx.committed)
}

func TestWithTenantScopeRollsBackOnError(t *testing.T) {
	ftx := &fakeTx{}
	scope := TenantScope{SchemaName: "s", RoleName: "r"}

	err := WithTenantScope(context.Background(), &fakePool{tx: ftx}, scope, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	require.False(t, ftx.committed)
	require.True(t, ftx.rolledBack)
}

func TestWithTenantScopeRequiresRoleAndSchema(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}

	err := WithTenantScope(context.Background(), pool, TenantScope{SchemaName: "s"}, pgx.TxOptions{}, func(tx pgx.Tx) error { return nil })
	require.ErrorContains(t, err, "tenant role is required")

	err = WithTenantScope(context.Background(), pool, TenantScope{RoleName: "r"}, pgx.TxOptions{}, func(tx pgx.Tx) error { return nil })
	require.ErrorContains(t, err, "tenant schema is required")
}

func TestWithTenantScopeBeginError(t *testing.T) {
	pool := &fakePool{err: errors.New("pool closed")}

	err := WithTenantScope(context.Background(), pool, TenantScope{SchemaName: "s", RoleName: "r"}, pgx.TxOptions{}, func(tx pgx.Tx) error { return nil })
	require.ErrorContains(t, err, "begin tx: pool closed")
}
