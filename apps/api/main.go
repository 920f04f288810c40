package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	tenantshandler "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/handler"
	tenantsprov "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/provisioning"
	tenantsrepo "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/connection"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/secrets"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/session"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant/resolver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(nil)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if cfg.BootstrapAdminSchema {
		if err := persistence.BootstrapAdminSchema(ctx, pool, cfg.AdminSchema); err != nil {
			logger.Fatal("bootstrap admin schema", zap.Error(err))
		}
	}

	// Tenant stores live on the data-plane database, which defaults to the
	// admin database.
	dataPool := pool
	if cfg.TenantDatabaseURL != cfg.DatabaseURL {
		dataPool, err = persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.TenantDatabaseURL})
		if err != nil {
			logger.Fatal("init data-plane postgres pool", zap.Error(err))
		}
		defer persistence.ClosePool(dataPool)
	}

	tenantStore, err := persistence.NewTenantStore(ctx, pool, cfg.AdminSchema)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}

	sealer, err := secrets.NewSealerFromBase64(cfg.DescriptorKey, tenantsrepo.DescriptorPurpose)
	if err != nil {
		logger.Fatal("init descriptor sealer", zap.Error(err))
	}
	tenantRepo := tenantsrepo.NewPostgresRepository(tenantStore, sealer)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cache := connection.NewCache(
		&persistence.TenantPoolBuilder{
			MaxConns:        cfg.TenantPoolMaxConns,
			MaxConnIdleTime: cfg.ConnectionIdleTimeout,
		},
		cfg.cacheConfig(),
		connection.WithLogger(logger.Named("connection-cache")),
		connection.WithMetrics(connection.NewMetrics(registry)),
	)
	defer cache.Close()
	go cache.Run(ctx)

	tenantService := tenantsservice.New(
		tenantRepo,
		cfg.EnvKey,
		tenantsservice.WithEvictor(cache),
		tenantsservice.WithLogger(logger.Named("tenants")),
	)

	dbProv, err := tenantsprov.NewDBProvisioner(dataPool, "")
	if err != nil {
		logger.Fatal("init db provisioner", zap.Error(err))
	}

	storageProv, closeStorage, err := tenantsprov.NewStorageProvisioner(ctx, cfg.storageConfig())
	if err != nil {
		logger.Fatal("init storage provisioner", zap.Error(err))
	}
	defer closeStorage()

	orchestrator := tenantsservice.NewOrchestrator(
		tenantService,
		tenantsservice.ProvisioningDeps{
			Store:   dbProv,
			Locker:  dbProv,
			Storage: storageProv,
		},
		cfg.orchestratorConfig(),
		tenantsservice.WithOrchestratorLogger(logger.Named("provisioning")),
		tenantsservice.WithProvisioningMetrics(tenantsservice.NewProvisioningMetrics(registry)),
	)

	tenantResolver, err := resolver.New(tenantService, cfg.resolverConfig())
	if err != nil {
		logger.Fatal("init tenant resolver", zap.Error(err))
	}

	router := newRouter(cfg, routerDeps{
		logger:   logger,
		tenants:  tenantshandler.New(tenantService, orchestrator, logger),
		resolver: tenantResolver,
		sessions: session.NewFactory(cache),
		evictor:  cache,
		gatherer: registry,
		ready:    pingReady(pool),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server",
			zap.String("port", cfg.Port),
			zap.String("resolution_mode", cfg.ResolutionMode),
			zap.String("storage_backend", cfg.StorageBackend),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	// Runs are detached from requests; give them the rest of the grace period.
	done := make(chan struct{})
	go func() {
		orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("provisioning runs still in flight at shutdown; they are safe to retry")
	}
}

func pingReady(pool *pgxpool.Pool) func(r *http.Request) error {
	return func(r *http.Request) error {
		return pool.Ping(r.Context())
	}
}
