package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/connection"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// recordingTx satisfies pgx.Tx and records Exec statements and their args.
type recordingTx struct {
	pgx.Tx
	stmts     []string
	args      [][]any
	committed bool
}

func (r *recordingTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	r.args = append(r.args, args)
	return pgconn.CommandTag{}, nil
}
func (r *recordingTx) Commit(context.Context) error   { r.committed = true; return nil }
func (r *recordingTx) Rollback(context.Context) error { return nil }

type fakeHandle struct {
	id    uuid.UUID
	desc  tenant.Descriptor
	txs   []*recordingTx
	modes []pgx.TxAccessMode
}

func newHandle(slug string) *fakeHandle {
	schema := tenant.BuildSchemaName("dev", tenant.ToSnake(slug))
	return &fakeHandle{
		id:   uuid.New(),
		desc: tenant.Descriptor{Version: 1, SchemaName: schema, RoleName: tenant.BuildRoleName(schema)},
	}
}

func (h *fakeHandle) TenantID() uuid.UUID           { return h.id }
func (h *fakeHandle) Descriptor() tenant.Descriptor { return h.desc }
func (h *fakeHandle) Close()                        {}
func (h *fakeHandle) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	tx := &recordingTx{}
	h.txs = append(h.txs, tx)
	h.modes = append(h.modes, opts.AccessMode)
	return tx, nil
}

type stubAcquirer struct {
	handles map[uuid.UUID]connection.Handle
	err     error
}

func (a *stubAcquirer) Acquire(ctx context.Context, id uuid.UUID, d tenant.Descriptor) (connection.Handle, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.handles[id], nil
}

func TestSessionIsConfinedToItsTenant(t *testing.T) {
	acme := newHandle("acme")
	beta := newHandle("beta")

	s, err := Open(acme)
	require.NoError(t, err)
	require.Equal(t, acme.id, s.TenantID())

	err = s.WithTx(context.Background(), func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "INSERT INTO settings (key, value) VALUES ('k', 'v')")
		return err
	})
	require.NoError(t, err)

	require.Empty(t, beta.txs)
	require.Len(t, acme.txs, 1)
	tx := acme.txs[0]
	require.True(t, tx.committed)
	require.Equal(t, `SET LOCAL ROLE "dev__tenant_acme_role"`, tx.stmts[0])
	require.Equal(t, []any{`"dev__tenant_acme"`}, tx.args[1])
	for _, args := range tx.args {
		for _, a := range args {
			require.NotContains(t, a, "beta")
		}
	}
}

func TestReadOnlyUsesReadOnlyTransaction(t *testing.T) {
	h := newHandle("acme")
	s, err := Open(h)
	require.NoError(t, err)

	require.NoError(t, s.ReadOnly(context.Background(), func(pgx.Tx) error { return nil }))
	require.Equal(t, []pgx.TxAccessMode{pgx.ReadOnly}, h.modes)
}

func TestClosedSessionRejectsWork(t *testing.T) {
	h := newHandle("acme")
	s, err := Open(h)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.WithTx(context.Background(), func(pgx.Tx) error { return nil }), ErrClosed)
	require.Empty(t, h.txs)
}

func TestOpenValidatesHandle(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)

	h := newHandle("acme")
	h.desc.RoleName = ""
	_, err = Open(h)
	require.ErrorContains(t, err, "role")
}

func TestFactoryRunClosesSessionOnPanic(t *testing.T) {
	h := newHandle("acme")
	f := NewFactory(&stubAcquirer{handles: map[uuid.UUID]connection.Handle{h.id: h}})
	resolved := tenant.Resolved{TenantID: h.id, Identifier: "acme", Descriptor: h.desc}

	var captured *Session
	require.Panics(t, func() {
		_ = f.Run(context.Background(), resolved, func(ctx context.Context, s *Session) error {
			captured = s
			fromCtx, ok := FromContext(ctx)
			require.True(t, ok)
			require.Same(t, s, fromCtx)
			panic("handler bug")
		})
	})
	require.NotNil(t, captured)
	require.ErrorIs(t, captured.WithTx(context.Background(), func(pgx.Tx) error { return nil }), ErrClosed)
}

func TestFactoryOpenPropagatesAcquireFailure(t *testing.T) {
	id := uuid.New()
	f := NewFactory(&stubAcquirer{err: tenant.BuildFailed(id, errors.New("dial tcp: refused"))})

	_, err := f.Open(context.Background(), tenant.Resolved{TenantID: id})
	require.ErrorIs(t, err, tenant.ErrConnectionBuildFailed)

	_, ok := FromContext(context.Background())
	require.False(t, ok)
}
