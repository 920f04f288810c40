package tenant

import (
	"errors"
	"strings"
)

// Descriptor locates a tenant's isolated data store. It is written once by
// provisioning and carried by Active and Suspended records only.
type Descriptor struct {
	// Version increases every time the descriptor is rewritten; cached
	// connections built from an older version are stale.
	Version int64 `json:"version"`
	// DSN is the data-plane connection string, logged in as the tenant role.
	// It carries credentials and is only stored sealed.
	DSN           string `json:"dsn,omitempty"`
	SchemaName    string `json:"schema"`
	RoleName      string `json:"role"`
	StoragePrefix string `json:"storagePrefix,omitempty"`
}

// Validate checks the fields every consumer relies on.
func (d Descriptor) Validate() error {
	if d.Version <= 0 {
		return errors.New("descriptor version must be positive")
	}
	if strings.TrimSpace(d.SchemaName) == "" {
		return errors.New("descriptor schema is required")
	}
	if strings.TrimSpace(d.RoleName) == "" {
		return errors.New("descriptor role is required")
	}
	return nil
}

// Redacted returns a copy safe to log.
func (d Descriptor) Redacted() Descriptor {
	if d.DSN != "" {
		d.DSN = "[redacted]"
	}
	return d
}
