package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
)

// MarkerName is the object written at the root of every tenant storage
// prefix once it has been provisioned.
const MarkerName = ".palmyra-tenant"

// LocalStorageProvisioner checks/creates a local filesystem prefix under BasePath.
type LocalStorageProvisioner struct {
	BasePath string
}

func NewLocalStorageProvisioner(basePath string) *LocalStorageProvisioner {
	if basePath == "" {
		panic("local storage provisioner requires basePath")
	}
	return &LocalStorageProvisioner{BasePath: basePath}
}

// Ensure creates the prefix directory and its marker file.
func (p *LocalStorageProvisioner) Ensure(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	dir, err := p.dir(prefix)
	if err != nil {
		return service.StorageProvisionResult{Ready: false}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("create prefix path: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MarkerName), []byte(prefix+"\n"), 0o644); err != nil {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("write marker: %w", err)
	}
	return service.StorageProvisionResult{Ready: true}, nil
}

// Check reports whether Ensure has completed for prefix. It creates nothing.
func (p *LocalStorageProvisioner) Check(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	dir, err := p.dir(prefix)
	if err != nil {
		return service.StorageProvisionResult{Ready: false}, err
	}
	if _, err := os.Stat(filepath.Join(dir, MarkerName)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return service.StorageProvisionResult{Ready: false}, nil
		}
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("stat marker: %w", err)
	}
	return service.StorageProvisionResult{Ready: true}, nil
}

func (p *LocalStorageProvisioner) dir(prefix string) (string, error) {
	if strings.TrimSpace(prefix) == "" {
		return "", errors.New("storage prefix is required")
	}
	dir := filepath.Join(p.BasePath, filepath.FromSlash(prefix))
	rel, err := filepath.Rel(p.BasePath, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("storage prefix %q escapes base path", prefix)
	}
	return dir, nil
}

var _ service.StorageProvisioner = (*LocalStorageProvisioner)(nil)
