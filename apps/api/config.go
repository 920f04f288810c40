package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/provisioning"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/connection"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant/resolver"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL          string `env:"DATABASE_URL,required"`
	TenantDatabaseURL    string `env:"TENANT_DATABASE_URL"` // defaults to DATABASE_URL
	EnvKey               string `env:"ENV_KEY,required"`
	AdminSchema          string `env:"ADMIN_SCHEMA" envDefault:"tenant_admin"`
	BootstrapAdminSchema bool   `env:"BOOTSTRAP_ADMIN_SCHEMA" envDefault:"false"`
	DescriptorKey        string `env:"DESCRIPTOR_KEY,required"` // base64, at least 32 bytes

	ResolutionMode   string `env:"RESOLUTION_MODE" envDefault:"subdomain"` // subdomain | header | path
	TenantBaseDomain string `env:"TENANT_BASE_DOMAIN"`                     // required in subdomain mode
	TenantHeader     string `env:"TENANT_HEADER" envDefault:"X-Tenant"`
	TenantPathPrefix string `env:"TENANT_PATH_PREFIX" envDefault:"/t"`

	ConnectionIdleTimeout   time.Duration `env:"CONNECTION_IDLE_TIMEOUT" envDefault:"10m"`
	ConnectionBuildTimeout  time.Duration `env:"CONNECTION_BUILD_TIMEOUT" envDefault:"10s"`
	ConnectionBuildAttempts int           `env:"CONNECTION_BUILD_ATTEMPTS" envDefault:"3"`
	TenantPoolMaxConns      int32         `env:"TENANT_POOL_MAX_CONNS" envDefault:"4"`
	UnavailableRetryAfter   time.Duration `env:"UNAVAILABLE_RETRY_AFTER" envDefault:"5s"`

	ProvisionStepTimeout time.Duration `env:"PROVISION_STEP_TIMEOUT" envDefault:"30s"`
	ProvisionRunTimeout  time.Duration `env:"PROVISION_RUN_TIMEOUT" envDefault:"5m"`

	StorageBackend  string `env:"STORAGE_BACKEND" envDefault:"none"`              // none | local | gcs
	StorageBucket   string `env:"STORAGE_BUCKET"`                                 // required when STORAGE_BACKEND=gcs
	StorageLocalDir string `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"` // used when STORAGE_BACKEND=local
}

func loadConfig(environ map[string]string) (config, error) {
	var cfg config
	// A nil environ reads the process environment.
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TenantDatabaseURL == "" {
		cfg.TenantDatabaseURL = cfg.DatabaseURL
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	if err := service.ValidateEnvKey(c.EnvKey); err != nil {
		errs = append(errs, fmt.Errorf("ENV_KEY: %w", err))
	}
	if strings.TrimSpace(c.AdminSchema) == "" {
		errs = append(errs, errors.New("ADMIN_SCHEMA must not be blank"))
	}
	switch resolver.Mode(c.ResolutionMode) {
	case resolver.ModeSubdomain:
		if strings.TrimSpace(c.TenantBaseDomain) == "" {
			errs = append(errs, errors.New("TENANT_BASE_DOMAIN is required when RESOLUTION_MODE=subdomain"))
		}
	case resolver.ModeHeader, resolver.ModePath:
	default:
		errs = append(errs, fmt.Errorf("invalid RESOLUTION_MODE %q (use subdomain, header or path)", c.ResolutionMode))
	}
	switch provisioning.StorageBackend(c.StorageBackend) {
	case provisioning.StorageNone:
	case provisioning.StorageLocal:
		if strings.TrimSpace(c.StorageLocalDir) == "" {
			errs = append(errs, errors.New("STORAGE_LOCAL_DIR is required when STORAGE_BACKEND=local"))
		}
	case provisioning.StorageGCS:
		if c.StorageBucket == "" {
			errs = append(errs, errors.New("STORAGE_BUCKET is required when STORAGE_BACKEND=gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_BACKEND %q (use none, local or gcs)", c.StorageBackend))
	}
	return errors.Join(errs...)
}

func (c config) resolverConfig() resolver.Config {
	return resolver.Config{
		Mode:       resolver.Mode(c.ResolutionMode),
		BaseDomain: c.TenantBaseDomain,
		Header:     c.TenantHeader,
		PathPrefix: c.TenantPathPrefix,
	}
}

func (c config) cacheConfig() connection.Config {
	return connection.Config{
		IdleTimeout:   c.ConnectionIdleTimeout,
		BuildTimeout:  c.ConnectionBuildTimeout,
		BuildAttempts: c.ConnectionBuildAttempts,
	}
}

func (c config) orchestratorConfig() service.OrchestratorConfig {
	return service.OrchestratorConfig{
		StepTimeout: c.ProvisionStepTimeout,
		RunTimeout:  c.ProvisionRunTimeout,
	}
}

func (c config) storageConfig() provisioning.StorageConfig {
	return provisioning.StorageConfig{
		Backend:  provisioning.StorageBackend(c.StorageBackend),
		Bucket:   c.StorageBucket,
		LocalDir: c.StorageLocalDir,
	}
}

const spaceRouteDefault = "/api/v1/space"

// spaceRoute is where the data-plane routes are mounted. In path mode the
// identifier is part of the route.
func (c config) spaceRoute() string {
	if resolver.Mode(c.ResolutionMode) != resolver.ModePath {
		return spaceRouteDefault
	}
	prefix := strings.TrimSpace(c.TenantPathPrefix)
	if prefix == "" {
		prefix = resolver.DefaultPathPrefix
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "/{tenant}/api/v1/space"
	}
	return "/" + prefix + "/{tenant}/api/v1/space"
}
