package storage

import (
	"fmt"
	"strings"
)

// ObjectLocation describes where a blob should live.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// ResolveObjectLocation combines a tenant storage prefix and a logical key into a bucket/path pair.
//   - bucket comes from deployment configuration (one bucket per environment class).
//   - basePrefix is the tenant's storage prefix, e.g. "dev/acme-12345678/".
//   - logicalKey is tenant-relative; it may not climb out of the prefix.
func ResolveObjectLocation(bucket, basePrefix, logicalKey string) (ObjectLocation, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectLocation{}, fmt.Errorf("bucket is required")
	}
	key := strings.TrimSpace(logicalKey)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return ObjectLocation{}, fmt.Errorf("logical key %q escapes the tenant prefix", logicalKey)
		}
	}

	prefix := strings.TrimSpace(basePrefix)
	if prefix == "" || prefix == "/" {
		return ObjectLocation{}, fmt.Errorf("tenant base prefix is missing")
	}

	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return ObjectLocation{Bucket: bucket, FullPath: prefix + key}, nil
}
