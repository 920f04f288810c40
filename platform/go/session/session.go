package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/connection"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// ErrClosed is returned when a closed Session is used.
var ErrClosed = errors.New("session closed")

// Session is the only data access business code receives. It is bound to one
// tenant's store at open time and has no way to address another tenant.
type Session struct {
	handle connection.Handle
	scope  persistence.TenantScope
	closed atomic.Bool
}

// Open binds a new Session to handle. Opening is cheap; connections are
// taken from the handle per transaction.
func Open(handle connection.Handle) (*Session, error) {
	if handle == nil {
		return nil, errors.New("session requires a connection handle")
	}
	d := handle.Descriptor()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		handle: handle,
		scope:  persistence.TenantScope{SchemaName: d.SchemaName, RoleName: d.RoleName},
	}, nil
}

// TenantID returns the tenant this session is bound to.
func (s *Session) TenantID() uuid.UUID { return s.handle.TenantID() }

// WithTx runs fn in a read-write transaction confined to the tenant.
func (s *Session) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, fn)
}

// ReadOnly runs fn in a read-only transaction confined to the tenant.
func (s *Session) ReadOnly(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (s *Session) run(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return persistence.WithTenantScope(ctx, s.handle, s.scope, opts, fn)
}

// Close releases the session. The handle stays in the cache for reuse.
// Closing twice is a no-op.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// Acquirer hands out cached connection handles.
type Acquirer interface {
	Acquire(ctx context.Context, tenantID uuid.UUID, d tenant.Descriptor) (connection.Handle, error)
}

// Factory opens sessions for resolved tenants.
type Factory struct {
	acquirer Acquirer
}

func NewFactory(acquirer Acquirer) *Factory {
	if acquirer == nil {
		panic("session factory requires acquirer")
	}
	return &Factory{acquirer: acquirer}
}

// Open acquires the tenant's handle and opens a session on it. The caller
// must Close the session.
func (f *Factory) Open(ctx context.Context, resolved tenant.Resolved) (*Session, error) {
	handle, err := f.acquirer.Acquire(ctx, resolved.TenantID, resolved.Descriptor)
	if err != nil {
		return nil, err
	}
	return Open(handle)
}

// Run opens a session, passes it to fn and closes it on every exit path,
// including panics.
func (f *Factory) Run(ctx context.Context, resolved tenant.Resolved, fn func(ctx context.Context, s *Session) error) error {
	s, err := f.Open(ctx, resolved)
	if err != nil {
		return err
	}
	defer s.Close() // nolint:errcheck

	return fn(IntoContext(ctx, s), s)
}

type ctxKey struct{}

// IntoContext stores the session on the context.
func IntoContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request's session, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
