package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/connection"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// TenantPool is a small pgx pool dedicated to one tenant's store. Every
// connection starts with search_path pinned to the tenant schema.
type TenantPool struct {
	tenantID   uuid.UUID
	descriptor tenant.Descriptor
	pool       *pgxpool.Pool
}

func (p *TenantPool) TenantID() uuid.UUID           { return p.tenantID }
func (p *TenantPool) Descriptor() tenant.Descriptor { return p.descriptor }

func (p *TenantPool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return p.pool.BeginTx(ctx, txOptions)
}

func (p *TenantPool) Close() { ClosePool(p.pool) }

// TenantPoolBuilder builds TenantPools for the connection cache. Pools log in
// with the credentials in the descriptor's DSN, so a tenant connection holds
// only the tenant role's privileges.
type TenantPoolBuilder struct {
	MaxConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

// Build opens and pings a pool for the descriptor.
func (b *TenantPoolBuilder) Build(ctx context.Context, tenantID uuid.UUID, d tenant.Descriptor) (connection.Handle, error) {
	dsn := strings.TrimSpace(d.DSN)
	if dsn == "" {
		return nil, errors.New("descriptor carries no tenant credentials")
	}

	pool, err := NewPool(ctx, PoolConfig{
		ConnString:      dsn,
		MaxConns:        b.MaxConns,
		MaxConnIdleTime: b.MaxConnIdleTime,
		MaxConnLifetime: b.MaxConnLifetime,
		RuntimeParams: map[string]string{
			"search_path":      pgx.Identifier{d.SchemaName}.Sanitize(),
			"application_name": "palmyra-tenant-" + tenant.ShortID(tenantID),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tenant pool: %w", err)
	}

	return &TenantPool{tenantID: tenantID, descriptor: d, pool: pool}, nil
}

var _ connection.Builder = (*TenantPoolBuilder)(nil)
var _ TxBeginner = (*TenantPool)(nil)
