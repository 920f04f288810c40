package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/session"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Resolver maps a request to an Active tenant.
type Resolver interface {
	Resolve(r *http.Request) (tenant.Resolved, error)
}

// SessionOpener opens a data-plane session for a resolved tenant.
// Implemented by *session.Factory.
type SessionOpener interface {
	Open(ctx context.Context, resolved tenant.Resolved) (*session.Session, error)
}

// Evictor drops a tenant's cached connection. Implemented by *connection.Cache.
type Evictor interface {
	Evict(tenantID uuid.UUID) bool
}

// Config controls middleware behavior.
type Config struct {
	// Evictor is optional. When set, tenants that fail resolution with a
	// known id lose their cached connection.
	Evictor Evictor
	// RetryAfter is advertised when a connection cannot be built. Default 5s.
	RetryAfter time.Duration
	// Logger is used when the request carries none.
	Logger *zap.Logger
}

// Fixed bodies. They never echo the identifier or reveal more than the status.
const (
	bodyNotFound    = "tenant not found"
	bodyNotActive   = "tenant not active"
	bodyUnavailable = "tenant temporarily unavailable"
	bodyInternal    = "internal error"
)

// WithTenantSession resolves the tenant, opens a session bound to it and
// stores both on the request context. The session is closed when the
// handler returns.
func WithTenantSession(resolver Resolver, opener SessionOpener, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}
	if opener == nil {
		panic("tenant middleware: session opener is required")
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := platformlogging.FromRequest(r, cfg.Logger)

			resolved, err := resolver.Resolve(r)
			if err != nil {
				fail(w, logger, cfg, err)
				return
			}

			tenantFields := []zap.Field{
				zap.String("tenant_id", resolved.TenantID.String()),
				zap.String("tenant", resolved.Identifier),
			}
			logger = logger.With(tenantFields...)
			platformlogging.AnnotateRequest(r.Context(), tenantFields...)

			s, err := opener.Open(r.Context(), resolved)
			if err != nil {
				fail(w, logger, cfg, err)
				return
			}
			defer s.Close() // nolint:errcheck

			ctx := tenant.WithResolved(r.Context(), resolved)
			ctx = session.IntoContext(ctx, s)
			ctx = platformlogging.WithLogger(ctx, logger)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func fail(w http.ResponseWriter, logger *zap.Logger, cfg Config, err error) {
	var te *tenant.Error
	if errors.As(err, &te) && te.TenantID != uuid.Nil && cfg.Evictor != nil {
		switch te.Kind {
		case tenant.KindTenantNotFound, tenant.KindTenantNotActive:
			if cfg.Evictor.Evict(te.TenantID) {
				logger.Info("evicted connection for unservable tenant",
					zap.String("tenant_id", te.TenantID.String()),
					zap.String("reason", string(te.Kind)))
			}
		}
	}

	switch tenant.KindOf(err) {
	case tenant.KindIdentifierMissing, tenant.KindTenantNotFound:
		logger.Debug("tenant resolution failed", zap.Error(err))
		http.Error(w, bodyNotFound, http.StatusNotFound)
	case tenant.KindTenantNotActive:
		logger.Info("tenant not active", zap.Error(err))
		http.Error(w, bodyNotActive, http.StatusForbidden)
	case tenant.KindConnectionBuildFailed:
		logger.Warn("tenant connection unavailable", zap.Error(err))
		w.Header().Set("Retry-After", strconv.Itoa(int(cfg.RetryAfter.Round(time.Second)/time.Second)))
		http.Error(w, bodyUnavailable, http.StatusServiceUnavailable)
	default:
		logger.Error("tenant middleware failed", zap.Error(err))
		http.Error(w, bodyInternal, http.StatusInternalServerError)
	}
}
