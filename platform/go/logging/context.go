package logging

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ctxKey struct{}

type completionKey struct{}

// completionFields collects fields that handlers further down the chain
// want on the request completion entry.
type completionFields struct {
	mu     sync.Mutex
	fields []zap.Field
}

// WithLogger stores the provided logger on the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext retrieves the logger from context, if present.
func FromContext(ctx context.Context) (*zap.Logger, bool) {
	logger, ok := ctx.Value(ctxKey{}).(*zap.Logger)
	return logger, ok
}

// FromRequest pulls the request-scoped logger from the HTTP request when available, falling back to the provided default.
func FromRequest(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := FromContext(r.Context()); ok {
		return logger
	}
	return fallback
}

// AnnotateRequest adds fields to the completion entry written by RequestLogger,
// e.g. the tenant a request was resolved to. No-op outside RequestLogger.
func AnnotateRequest(ctx context.Context, fields ...zap.Field) {
	cf, ok := ctx.Value(completionKey{}).(*completionFields)
	if !ok {
		return
	}
	cf.mu.Lock()
	cf.fields = append(cf.fields, fields...)
	cf.mu.Unlock()
}

// RequestLogger returns an HTTP middleware that enriches the base logger with request scoped fields,
// stores it on the context, and emits a completion log once the handler finishes.
// Server errors complete at error level.
func RequestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())

			logger := base
			if requestID != "" {
				logger = logger.With(zap.String("request_id", requestID))
			}

			logger = logger.With(
				zap.String("http_method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			cf := &completionFields{}
			ctx := WithLogger(r.Context(), logger)
			ctx = context.WithValue(ctx, completionKey{}, cf)

			next.ServeHTTP(ww, r.WithContext(ctx))

			cf.mu.Lock()
			fields := append([]zap.Field{
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}, cf.fields...)
			cf.mu.Unlock()

			if ww.Status() >= http.StatusInternalServerError {
				logger.Error("request completed", fields...)
				return
			}
			logger.Info("request completed", fields...)
		})
	}
}
