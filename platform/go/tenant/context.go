package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Resolved is the per-request view of a tenant that passed resolution.
// It is produced only for Active tenants and carries a snapshot of the
// connection descriptor read from the directory.
type Resolved struct {
	TenantID   uuid.UUID
	Identifier string
	Descriptor Descriptor
}

// Entry is the directory projection the resolver needs to decide whether a
// tenant may be served.
type Entry struct {
	ID         uuid.UUID
	Identifier string
	State      State
	Descriptor *Descriptor
}

type ctxKey string

const resolvedKey ctxKey = "PALMYRA_TENANT_RESOLVED"

// WithResolved returns a derived context carrying the resolved tenant.
func WithResolved(ctx context.Context, resolved Resolved) context.Context {
	return context.WithValue(ctx, resolvedKey, resolved)
}

// FromContext extracts the resolved tenant and a boolean indicating presence.
func FromContext(ctx context.Context) (Resolved, bool) {
	v := ctx.Value(resolvedKey)
	if v == nil {
		return Resolved{}, false
	}

	resolved, ok := v.(Resolved)
	return resolved, ok
}
