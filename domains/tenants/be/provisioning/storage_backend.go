package provisioning

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
)

// StorageBackend selects where tenant storage prefixes are provisioned.
type StorageBackend string

const (
	StorageNone  StorageBackend = "none"
	StorageLocal StorageBackend = "local"
	StorageGCS   StorageBackend = "gcs"
)

// StorageConfig configures NewStorageProvisioner.
type StorageConfig struct {
	Backend  StorageBackend
	Bucket   string // gcs
	LocalDir string // local
}

// NewStorageProvisioner builds the provisioner for cfg.Backend. StorageNone
// yields a nil provisioner, which makes the orchestrator skip the storage
// step. The returned func releases the backend client.
func NewStorageProvisioner(ctx context.Context, cfg StorageConfig) (service.StorageProvisioner, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case StorageNone, "":
		return nil, noop, nil
	case StorageLocal:
		if strings.TrimSpace(cfg.LocalDir) == "" {
			return nil, noop, fmt.Errorf("local storage requires a directory")
		}
		return NewLocalStorageProvisioner(cfg.LocalDir), noop, nil
	case StorageGCS:
		if cfg.Bucket == "" {
			return nil, noop, fmt.Errorf("gcs storage requires a bucket")
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("init gcs client: %w", err)
		}
		return NewGCSStorageProvisioner(client, cfg.Bucket), func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
