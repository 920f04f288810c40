package middleware

import "net/http"

// DefaultCORS allows any origin. The tenant header must be listed so browsers
// may send it in header resolution mode.
func DefaultCORS(tenantHeader string) func(http.Handler) http.Handler {
	allowHeaders := "Authorization,Content-Type,Idempotency-Key"
	if tenantHeader != "" {
		allowHeaders += "," + tenantHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
