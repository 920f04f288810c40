package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	tenantshandler "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/handler"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/palmyra-tenancy/platform/go/middleware"
	tenantmiddleware "github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant/middleware"
)

type routerDeps struct {
	logger   *zap.Logger
	tenants  *tenantshandler.Handler
	resolver tenantmiddleware.Resolver
	sessions tenantmiddleware.SessionOpener
	evictor  tenantmiddleware.Evictor
	gatherer prometheus.Gatherer
	ready    func(r *http.Request) error
}

func newRouter(cfg config, d routerDeps) http.Handler {
	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(cfg.TenantHeader),
	)

	rootRouter.Use(platformlogging.RequestLogger(d.logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.ready != nil {
			if err := d.ready(r); err != nil {
				platformlogging.FromRequest(r, d.logger).Warn("readiness check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))

	space := func(r chi.Router) {
		r.Use(tenantmiddleware.WithTenantSession(d.resolver, d.sessions, tenantmiddleware.Config{
			Evictor:    d.evictor,
			RetryAfter: cfg.UnavailableRetryAfter,
			Logger:     d.logger,
		}))
		r.Use(platformmiddleware.RequestTrace)
		r.Get("/", tenantshandler.SpaceProbe)
	}

	rootRouter.Route("/api/v1", func(r chi.Router) {
		// ---- Admin control plane ----
		r.Group(func(r chi.Router) {
			r.Use(platformmiddleware.RequestTrace)
			d.tenants.RegisterAdmin(r)
		})

		// ---- Tenant data plane (subdomain and header modes) ----
		if cfg.spaceRoute() == spaceRouteDefault {
			r.Route("/space", space)
		}
	})

	// ---- Tenant data plane (path mode) ----
	if cfg.spaceRoute() != spaceRouteDefault {
		rootRouter.Route(cfg.spaceRoute(), space)
	}

	// ---- Billing integration ----
	rootRouter.Group(func(r chi.Router) {
		r.Use(platformmiddleware.SystemTrace)
		d.tenants.RegisterBilling(r)
	})

	return rootRouter
}
