package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// StoreProvisioner creates and checks a tenant's isolated data store.
// Every mutating method is idempotent; re-running after a partial failure
// completes the remaining work.
type StoreProvisioner interface {
	// Allocate creates the tenant role and schema and returns the descriptor
	// that locates them.
	Allocate(ctx context.Context, req StoreRequest) (tenant.Descriptor, error)
	// ApplySchema applies the baseline migrations not yet recorded for the tenant.
	ApplySchema(ctx context.Context, d tenant.Descriptor) error
	// Seed inserts baseline reference data, skipping rows that already exist.
	Seed(ctx context.Context, d tenant.Descriptor) error
	// Check is read-only.
	Check(ctx context.Context, req StoreRequest) (StoreStatus, error)
}

type StoreRequest struct {
	TenantID      uuid.UUID
	SchemaName    string
	RoleName      string
	StoragePrefix string
}

type StoreStatus struct {
	RoleExists        bool
	SchemaExists      bool
	AppliedMigrations int
	TotalMigrations   int
}

// Ready reports whether the store exists and carries every baseline migration.
func (s StoreStatus) Ready() bool {
	return s.RoleExists && s.SchemaExists && s.AppliedMigrations >= s.TotalMigrations
}

// Locker serializes provisioning of one tenant across processes.
// Lock fails with tenant.ErrAlreadyProvisioning when another holder exists.
type Locker interface {
	Lock(ctx context.Context, tenantID uuid.UUID) (unlock func(), err error)
}

// StorageProvisioner validates storage reachability.
// Ensure is mutating/idempotent, Check is read-only/health verification.
type StorageProvisioner interface {
	Ensure(ctx context.Context, prefix string) (StorageProvisionResult, error)
	Check(ctx context.Context, prefix string) (StorageProvisionResult, error)
}

type StorageProvisionResult struct {
	Ready bool
}

// ProvisioningDeps are the collaborators of a provisioning run. Store is
// required; Locker and Storage are optional.
type ProvisioningDeps struct {
	Store   StoreProvisioner
	Locker  Locker
	Storage StorageProvisioner
}

func storeRequest(t Tenant) StoreRequest {
	return StoreRequest{
		TenantID:      t.ID,
		SchemaName:    t.SchemaName,
		RoleName:      t.RoleName(),
		StoragePrefix: t.BasePrefix,
	}
}
