package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Tenant is the admin representation of a directory record. Connection
// details never leave the server; only the descriptor version does.
type Tenant struct {
	TenantID          uuid.UUID    `json:"tenantId"`
	Identifier        string       `json:"identifier"`
	DisplayName       *string      `json:"displayName,omitempty"`
	State             tenant.State `json:"state"`
	SchemaName        string       `json:"schemaName"`
	BasePrefix        string       `json:"basePrefix"`
	ShortTenantID     string       `json:"shortTenantId"`
	DescriptorVersion *int64       `json:"descriptorVersion,omitempty"`
	Version           int64        `json:"version"`
	CreatedAt         time.Time    `json:"createdAt"`
	LastModifiedAt    time.Time    `json:"lastModifiedAt"`
}

type tenantList struct {
	Items      []Tenant `json:"items"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
	TotalItems int      `json:"totalItems"`
	TotalPages int      `json:"totalPages"`
}

// ProvisioningJob mirrors service.ProvisioningJob with the error flattened.
type ProvisioningJob struct {
	TenantID   uuid.UUID       `json:"tenantId"`
	Outcome    service.Outcome `json:"outcome"`
	Step       tenant.Step     `json:"step"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type storeStatus struct {
	RoleExists        bool `json:"roleExists"`
	SchemaExists      bool `json:"schemaExists"`
	AppliedMigrations int  `json:"appliedMigrations"`
	TotalMigrations   int  `json:"totalMigrations"`
	Ready             bool `json:"ready"`
}

// ProvisioningStatus reports how far provisioning got for a tenant.
type ProvisioningStatus struct {
	Tenant       Tenant           `json:"tenant"`
	Job          *ProvisioningJob `json:"job,omitempty"`
	Store        storeStatus      `json:"store"`
	StorageReady *bool            `json:"storageReady,omitempty"`
	Ready        bool             `json:"ready"`
}

func toAPITenant(t service.Tenant) Tenant {
	out := Tenant{
		TenantID:       t.ID,
		Identifier:     t.Identifier,
		DisplayName:    t.DisplayName,
		State:          t.State,
		SchemaName:     t.SchemaName,
		BasePrefix:     t.BasePrefix,
		ShortTenantID:  t.ShortTenantID,
		Version:        t.Version,
		CreatedAt:      t.CreatedAt,
		LastModifiedAt: t.LastModifiedAt,
	}
	if t.Descriptor != nil {
		v := t.Descriptor.Version
		out.DescriptorVersion = &v
	}
	return out
}

func toAPIJob(j service.ProvisioningJob) ProvisioningJob {
	out := ProvisioningJob{
		TenantID:   j.TenantID,
		Outcome:    j.Outcome,
		Step:       j.Step,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
	if j.Err != nil {
		out.Error = j.Err.Error()
	}
	return out
}

func toAPIProvisioningStatus(s service.ProvisioningStatus) ProvisioningStatus {
	out := ProvisioningStatus{
		Tenant: toAPITenant(s.Tenant),
		Store: storeStatus{
			RoleExists:        s.Store.RoleExists,
			SchemaExists:      s.Store.SchemaExists,
			AppliedMigrations: s.Store.AppliedMigrations,
			TotalMigrations:   s.Store.TotalMigrations,
			Ready:             s.Store.Ready(),
		},
		StorageReady: s.StorageReady,
	}
	if s.Job != nil {
		job := toAPIJob(*s.Job)
		out.Job = &job
	}
	out.Ready = s.Tenant.State == tenant.StateActive && out.Store.Ready && (s.StorageReady == nil || *s.StorageReady)
	return out
}
