package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// RequestTrace populates the context with request-scoped AuditInfo so services can log who acted on what.
// Mounted after the tenant middleware it also records the resolved tenant.
func RequestTrace(next http.Handler) http.Handler {
	return trace(next, requesttrace.Anonymous)
}

// SystemTrace is RequestTrace for machine callers such as the billing integration.
func SystemTrace(next http.Handler) http.Handler {
	return trace(next, requesttrace.System)
}

func trace(next http.Handler, build func(requestID string) requesttrace.AuditInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := platformlogging.FromRequest(r, nil)
		requestID := middleware.GetReqID(r.Context())

		audit := build(requestID)
		if resolved, ok := tenant.FromContext(r.Context()); ok {
			audit = audit.WithTenant(resolved)
		}

		ctx := requesttrace.IntoContext(r.Context(), audit)
		if logger != nil {
			logger = logger.With(zap.String("actor_kind", string(audit.ActorKind)))
			ctx = platformlogging.WithLogger(ctx, logger)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
