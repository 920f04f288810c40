package provisioning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStorageProvisioner(t *testing.T) {
	ctx := context.Background()

	prov, release, err := NewStorageProvisioner(ctx, StorageConfig{Backend: StorageNone})
	require.NoError(t, err)
	require.Nil(t, prov)
	release()

	prov, release, err = NewStorageProvisioner(ctx, StorageConfig{Backend: StorageLocal, LocalDir: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &LocalStorageProvisioner{}, prov)
	release()

	_, _, err = NewStorageProvisioner(ctx, StorageConfig{Backend: StorageLocal})
	require.Error(t, err)

	_, _, err = NewStorageProvisioner(ctx, StorageConfig{Backend: StorageGCS})
	require.Error(t, err)

	_, _, err = NewStorageProvisioner(ctx, StorageConfig{Backend: "s3"})
	require.Error(t, err)
}
