package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-live/internal/observability"
	"github.com/odyssey-erp/odyssey-live/internal/rbac"
	realtimehttp "github.com/odyssey-erp/odyssey-live/internal/realtime/http"
	"github.com/odyssey-erp/odyssey-live/internal/shared"
	"github.com/odyssey-erp/odyssey-live/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	RealtimeHandler    *realtimehttp.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	mwCfg := MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}
	for _, mw := range BaseMiddleware(mwCfg) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.RealtimeHandler != nil {
		r.Route("/realtime", func(rr chi.Router) {
			// Upgraded sockets outlive the request, so they skip the API
			// timeout and compression.
			params.RealtimeHandler.MountSocket(rr)
			rr.Group(func(api chi.Router) {
				for _, mw := range APIMiddleware(mwCfg) {
					api.Use(mw)
				}
				params.RealtimeHandler.MountRoutes(api)
			})
		})
	}

	r.Group(func(api chi.Router) {
		for _, mw := range APIMiddleware(mwCfg) {
			api.Use(mw)
		}
		if params.PermissionsHandler != nil {
			api.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
