package sqlassets

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed schema/platform/tenants.sql
var TenantsSQL string

//go:embed schema/tenant_space/seed.sql
var TenantSeedSQL string

//go:embed schema/tenant_space/migrations/*.sql
var tenantMigrations embed.FS

// Migration is one ordered tenant-space DDL file.
type Migration struct {
	Version string
	SQL     string
}

// TenantMigrations returns the baseline tenant-space migrations ordered by file name.
func TenantMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(tenantMigrations, "schema/tenant_space/migrations")
	if err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(tenantMigrations, "schema/tenant_space/migrations/"+e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: strings.TrimSuffix(e.Name(), ".sql"), SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
