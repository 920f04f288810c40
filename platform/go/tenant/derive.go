package tenant

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ToSnake converts a kebab-case slug into snake_case for schema names.
func ToSnake(slug string) string {
	return strings.ReplaceAll(strings.ToLower(slug), "-", "_")
}

// ShortID returns the first 8 hexadecimal characters of a UUID (without dashes).
func ShortID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	if len(hex) < 8 {
		return hex
	}
	return hex[:8]
}

// MaxIdentifierLength is PostgreSQL's identifier limit in bytes. Longer
// names are silently truncated by the server, so two distinct names could
// map to one schema or role.
const MaxIdentifierLength = 63

const (
	schemaInfix = "__tenant_"
	roleSuffix  = "_role"
)

// MaxEnvKeyLength returns the longest environment key for which every slug of
// up to maxSlug bytes yields schema and role names within MaxIdentifierLength.
func MaxEnvKeyLength(maxSlug int) int {
	return MaxIdentifierLength - len(schemaInfix) - maxSlug - len(roleSuffix)
}

// BuildSchemaName returns the PostgreSQL schema reserved for a tenant.
// Format: <envKey>__tenant_<slugSnake>.
func BuildSchemaName(envKey, slugSnake string) string {
	envKey = strings.TrimSpace(envKey)
	return envKey + schemaInfix + slugSnake
}

// BuildRoleName returns the login role that owns a tenant schema.
func BuildRoleName(schemaName string) string {
	return schemaName + roleSuffix
}

// CheckStoreNames reports an error when the schema or its role would exceed
// MaxIdentifierLength.
func CheckStoreNames(schemaName string) error {
	if n := len(BuildRoleName(schemaName)); n > MaxIdentifierLength {
		return fmt.Errorf("role name for schema %q is %d bytes, limit is %d", schemaName, n, MaxIdentifierLength)
	}
	return nil
}

// BuildBasePrefix returns `<envKey>/<tenantSlug>-<shortTenantId>/`.
func BuildBasePrefix(envKey, slug string, shortID string) string {
	envKey = strings.TrimSuffix(envKey, "/")
	return envKey + "/" + slug + "-" + shortID + "/"
}
