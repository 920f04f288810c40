package tenantcmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/provisioning"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/secrets"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// options are the persistent flags shared by every tenant subcommand.
type options struct {
	databaseURL       string
	tenantDatabaseURL string
	envKey            string
	adminSchema       string
	descriptorKey     string
	storageBackend    string
	storageBucket     string
	storageLocalDir   string
	logLevel          string
	stepTimeout       time.Duration
	runTimeout        time.Duration
}

// Command groups tenant directory and lifecycle helpers.
func Command() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant directory, provisioning and lifecycle utilities",
		Long: `Manage tenants directly against the directory database.

A tenant argument is either the tenant UUID or its identifier.`,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string for the directory (default $DATABASE_URL)")
	flags.StringVar(&o.tenantDatabaseURL, "tenant-database-url", os.Getenv("TENANT_DATABASE_URL"), "PostgreSQL connection string for tenant stores (defaults to --database-url)")
	flags.StringVar(&o.envKey, "env-key", envOr("ENV_KEY", "dev"), "Environment key prefix (e.g. dev, stg, prod)")
	flags.StringVar(&o.adminSchema, "admin-schema", envOr("ADMIN_SCHEMA", "tenant_admin"), "Admin schema name for the tenant directory")
	flags.StringVar(&o.descriptorKey, "descriptor-key", os.Getenv("DESCRIPTOR_KEY"), "Base64 master key sealing connection descriptors (default $DESCRIPTOR_KEY)")
	flags.StringVar(&o.storageBackend, "storage-backend", envOr("STORAGE_BACKEND", string(provisioning.StorageNone)), "Storage backend: none, local or gcs")
	flags.StringVar(&o.storageBucket, "storage-bucket", os.Getenv("STORAGE_BUCKET"), "GCS bucket for tenant prefixes")
	flags.StringVar(&o.storageLocalDir, "storage-local-dir", os.Getenv("STORAGE_LOCAL_DIR"), "Directory for tenant prefixes with the local backend")
	flags.StringVar(&o.logLevel, "log-level", "warn", "Log level for diagnostics written to stderr")
	flags.DurationVar(&o.stepTimeout, "step-timeout", 30*time.Second, "Timeout for each provisioning step")
	flags.DurationVar(&o.runTimeout, "run-timeout", 5*time.Minute, "Timeout for a whole provisioning run")

	cmd.AddCommand(
		createCommand(o),
		provisionCommand(o),
		statusCommand(o),
		showCommand(o),
		listCommand(o),
		lifecycleCommand(o, "suspend", "Suspend an active tenant", (*service.Service).Suspend),
		lifecycleCommand(o, "reactivate", "Reactivate a suspended tenant", (*service.Service).Reactivate),
		lifecycleCommand(o, "deactivate", "Deactivate an active or suspended tenant", (*service.Service).Deactivate),
		lifecycleCommand(o, "delete", "Delete a tenant (revokes access; data is retained)", (*service.Service).Delete),
	)
	return cmd
}

func createCommand(o *options) *cobra.Command {
	var (
		identifier  string
		displayName string
		provision   bool
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Register a pending tenant, optionally provisioning it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, rt *runtime) error {
				t, err := rt.svc.Create(ctx, service.CreateInput{
					Identifier:  identifier,
					DisplayName: strPtrOrNil(displayName),
				})
				if err != nil {
					return fmt.Errorf("create tenant: %w", err)
				}
				if provision {
					if t, err = rt.orch.Provision(ctx, t.ID); err != nil {
						return fmt.Errorf("provision tenant %s: %w", identifier, err)
					}
				}
				return printTenant(cmd.OutOrStdout(), t)
			})
		},
	}

	c.Flags().StringVar(&identifier, "identifier", "", "Public tenant identifier (lowercase slug)")
	c.Flags().StringVar(&displayName, "display-name", "", "Display name for the tenant")
	c.Flags().BoolVar(&provision, "provision", false, "Provision the tenant right after creating it")
	_ = c.MarkFlagRequired("identifier")
	return c
}

func provisionCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "provision <tenant>",
		Short: "Provision a pending tenant and activate it (safe to re-run after a failure)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, rt *runtime) error {
				id, err := rt.lookupID(ctx, args[0])
				if err != nil {
					return err
				}
				t, err := rt.orch.Provision(ctx, id)
				if err != nil {
					return fmt.Errorf("provision tenant %s: %w", args[0], err)
				}
				return printTenant(cmd.OutOrStdout(), t)
			})
		},
	}
}

func statusCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <tenant>",
		Short: "Report the provisioning state of a tenant's store and storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, rt *runtime) error {
				id, err := rt.lookupID(ctx, args[0])
				if err != nil {
					return err
				}
				status, err := rt.orch.Status(ctx, id)
				if err != nil {
					return fmt.Errorf("provisioning status: %w", err)
				}
				return printStatus(cmd.OutOrStdout(), status)
			})
		},
	}
}

func showCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant>",
		Short: "Show a tenant directory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, rt *runtime) error {
				id, err := rt.lookupID(ctx, args[0])
				if err != nil {
					return err
				}
				t, err := rt.svc.Get(ctx, id)
				if err != nil {
					return err
				}
				return printTenant(cmd.OutOrStdout(), t)
			})
		},
	}
}

func listCommand(o *options) *cobra.Command {
	var (
		state    string
		page     int
		pageSize int
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := service.ListOptions{Page: page, PageSize: pageSize}
			if state != "" {
				st, err := tenant.ParseState(state)
				if err != nil {
					return err
				}
				opts.State = &st
			}
			if page < 1 || pageSize < 1 {
				return fmt.Errorf("page and page-size must be positive")
			}
			return o.run(cmd, func(ctx context.Context, rt *runtime) error {
				res, err := rt.svc.List(ctx, opts)
				if err != nil {
					return fmt.Errorf("list tenants: %w", err)
				}
				return printTenants(cmd.OutOrStdout(), res)
			})
		},
	}

	c.Flags().StringVar(&state, "state", "", "Only list tenants in this lifecycle state")
	c.Flags().IntVar(&page, "page", 1, "Page number (1-based)")
	c.Flags().IntVar(&pageSize, "page-size", 50, "Tenants per page")
	return c
}

func lifecycleCommand(o *options, use, short string, fn func(*service.Service, context.Context, uuid.UUID) (service.Tenant, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tenant>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, rt *runtime) error {
				id, err := rt.lookupID(ctx, args[0])
				if err != nil {
					return err
				}
				t, err := fn(rt.svc, ctx, id)
				if err != nil {
					return fmt.Errorf("%s tenant %s: %w", use, args[0], err)
				}
				return printTenant(cmd.OutOrStdout(), t)
			})
		},
	}
}

// runtime is the directory service and orchestrator wired for one command.
type runtime struct {
	svc     *service.Service
	orch    *service.Orchestrator
	closers []func()
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// lookupID accepts a tenant UUID or identifier.
func (rt *runtime) lookupID(ctx context.Context, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	t, err := rt.svc.FindByIdentifier(ctx, strings.TrimSpace(ref))
	if err != nil {
		return uuid.Nil, err
	}
	return t.ID, nil
}

func (o *options) run(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := requesttrace.IntoContext(cmd.Context(), requesttrace.System("cli-"+uuid.NewString()))
	rt, err := o.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(ctx, rt)
}

func (o *options) validate() error {
	var missing []string
	if strings.TrimSpace(o.databaseURL) == "" {
		missing = append(missing, "--database-url")
	}
	if strings.TrimSpace(o.envKey) == "" {
		missing = append(missing, "--env-key")
	}
	if strings.TrimSpace(o.adminSchema) == "" {
		missing = append(missing, "--admin-schema")
	}
	if strings.TrimSpace(o.descriptorKey) == "" {
		missing = append(missing, "--descriptor-key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if err := service.ValidateEnvKey(o.envKey); err != nil {
		return fmt.Errorf("--env-key: %w", err)
	}
	return nil
}

// open wires the directory, the data-plane provisioners and the orchestrator.
// The CLI holds no connection cache; API servers drop stale handles when
// their resolver next sees the changed directory record.
func (o *options) open(ctx context.Context, cmd *cobra.Command) (rt *runtime, err error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	rt = &runtime{}
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	logger, err := logging.NewLogger(logging.Config{
		Component: "cli",
		Level:     o.logLevel,
		Output:    zapcore.AddSync(cmd.ErrOrStderr()),
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: o.databaseURL})
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}
	rt.closers = append(rt.closers, func() { persistence.ClosePool(pool) })

	dataPool := pool
	if o.tenantDatabaseURL != "" && o.tenantDatabaseURL != o.databaseURL {
		if dataPool, err = persistence.NewPool(ctx, persistence.PoolConfig{ConnString: o.tenantDatabaseURL}); err != nil {
			return nil, fmt.Errorf("init data-plane pool: %w", err)
		}
		rt.closers = append(rt.closers, func() { persistence.ClosePool(dataPool) })
	}

	store, err := persistence.NewTenantStore(ctx, pool, o.adminSchema)
	if err != nil {
		return nil, fmt.Errorf("init tenant store: %w", err)
	}
	sealer, err := secrets.NewSealerFromBase64(o.descriptorKey, repo.DescriptorPurpose)
	if err != nil {
		return nil, fmt.Errorf("init descriptor sealer: %w", err)
	}
	rt.svc = service.New(repo.NewPostgresRepository(store, sealer), o.envKey, service.WithLogger(logger.Named("tenants")))

	dbProv, err := provisioning.NewDBProvisioner(dataPool, "")
	if err != nil {
		return nil, fmt.Errorf("init db provisioner: %w", err)
	}
	storageProv, closeStorage, err := provisioning.NewStorageProvisioner(ctx, provisioning.StorageConfig{
		Backend:  provisioning.StorageBackend(o.storageBackend),
		Bucket:   o.storageBucket,
		LocalDir: o.storageLocalDir,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeStorage)

	rt.orch = service.NewOrchestrator(rt.svc, service.ProvisioningDeps{
		Store:   dbProv,
		Locker:  dbProv,
		Storage: storageProv,
	}, service.OrchestratorConfig{
		StepTimeout: o.stepTimeout,
		RunTimeout:  o.runTimeout,
	}, service.WithOrchestratorLogger(logger.Named("provisioning")))
	// Detached runs must finish before the pools close.
	rt.closers = append(rt.closers, rt.orch.Wait)

	logger.Debug("tenant runtime ready",
		zap.String("env_key", o.envKey),
		zap.String("admin_schema", o.adminSchema),
		zap.String("storage_backend", o.storageBackend),
	)
	return rt, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func strPtrOrNil(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
