package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/matrix-outbox/internal/api/middleware"
	"github.com/phrazzld/matrix-outbox/internal/api/shared"
)

// HealthChecker reports whether the outbox can currently reach its
// homeserver. *sendqueue.NetworkGate satisfies it.
type HealthChecker interface {
	Reachable() bool
}

// RouterConfig holds the dependencies of the control API router.
type RouterConfig struct {
	Handler *SendHandler
	Auth    *middleware.AuthMiddleware
	Health  HealthChecker
	Logger  *slog.Logger

	// Metrics instruments requests when set.
	Metrics *middleware.HTTPMetrics
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Reachable bool   `json:"homeserver_reachable"`
}

// NewRouter builds the control API. Everything under /v1 requires a bearer
// token.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewTraceMiddleware(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Instrument)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Reachable: true}
		if cfg.Health != nil {
			resp.Reachable = cfg.Health.Reachable()
		}
		shared.RespondWithJSON(w, r, http.StatusOK, resp)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(cfg.Auth.Authenticate)

		r.Post("/rooms/{roomID}/send/{eventType}", cfg.Handler.SendEvent)
		r.Post("/rooms/{roomID}/redact", cfg.Handler.Redact)
		r.Get("/rooms/{roomID}/echoes", cfg.Handler.ListEchoes)
		r.Delete("/rooms/{roomID}/echoes/{eventID}", cfg.Handler.Cancel)

		r.Get("/echoes/{eventID}", cfg.Handler.GetEcho)
		r.Post("/echoes/{eventID}/resend", cfg.Handler.Resend)

		r.Get("/queue", cfg.Handler.Queue)
	})

	return r
}
