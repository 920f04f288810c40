package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	platformstorage "github.com/zenGate-Global/palmyra-tenancy/platform/go/storage"
)

// GCSStorageProvisioner manages a tenant prefix inside a shared GCS bucket.
type GCSStorageProvisioner struct {
	Client *storage.Client
	Bucket string
}

func NewGCSStorageProvisioner(client *storage.Client, bucket string) *GCSStorageProvisioner {
	if client == nil {
		panic("gcs storage provisioner requires client")
	}
	if bucket == "" {
		panic("gcs storage provisioner requires bucket")
	}
	return &GCSStorageProvisioner{Client: client, Bucket: bucket}
}

// Ensure writes the prefix marker object unless it already exists.
func (p *GCSStorageProvisioner) Ensure(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	loc, err := platformstorage.ResolveObjectLocation(p.Bucket, prefix, MarkerName)
	if err != nil {
		return service.StorageProvisionResult{Ready: false}, err
	}

	obj := p.Client.Bucket(loc.Bucket).Object(loc.FullPath).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = "text/plain"
	if _, err := w.Write([]byte(prefix + "\n")); err != nil {
		_ = w.Close()
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("write marker: %w", err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return service.StorageProvisionResult{Ready: true}, nil
		}
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("write marker: %w", err)
	}
	return service.StorageProvisionResult{Ready: true}, nil
}

// Check verifies bucket access and the presence of the marker.
func (p *GCSStorageProvisioner) Check(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	loc, err := platformstorage.ResolveObjectLocation(p.Bucket, prefix, MarkerName)
	if err != nil {
		return service.StorageProvisionResult{Ready: false}, err
	}

	bkt := p.Client.Bucket(loc.Bucket)
	if _, err := bkt.Attrs(ctx); err != nil {
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("bucket attrs: %w", err)
	}

	// List at most one object to validate access to the prefix.
	it := bkt.Objects(ctx, &storage.Query{Prefix: loc.FullPath})
	_, err = it.Next()
	switch {
	case errors.Is(err, iterator.Done):
		return service.StorageProvisionResult{Ready: false}, nil
	case err != nil:
		return service.StorageProvisionResult{Ready: false}, fmt.Errorf("list prefix: %w", err)
	}

	return service.StorageProvisionResult{Ready: true}, nil
}

var _ service.StorageProvisioner = (*GCSStorageProvisioner)(nil)
