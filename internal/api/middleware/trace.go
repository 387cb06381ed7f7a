package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/matrix-outbox/internal/api/shared"
	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
)

// NewTraceMiddleware assigns every request a trace id, reusing a valid
// X-Trace-ID header, and stores a logger tagged with it in the request
// context. The id is echoed in the response header.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(shared.TraceIDHeader)
			if !shared.IsValidTraceID(traceID) {
				traceID = shared.NewTraceID()
			}

			log := base.With("trace_id", traceID)
			ctx := shared.WithTraceID(r.Context(), traceID)
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr)

			w.Header().Set(shared.TraceIDHeader, traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
