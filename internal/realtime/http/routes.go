package realtimehttp

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-live/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-live/internal/rbac"
)

const (
	upgradeRateLimit  = 30
	upgradeRateWindow = time.Minute
)

// MountSocket registers the websocket upgrade endpoint. It must sit outside
// request timeouts and response compression since the connection outlives
// the request.
func (h *Handler) MountSocket(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(upgradeRateLimit, upgradeRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.RespondError(w, fmt.Errorf("%w: too many connection attempts", httpx.ErrRateLimited))
		}),
	)
	r.With(limiter).Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if h.socket == nil {
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, errNoSocket))
			return
		}
		h.handleSocket(w, r)
	})
}

// MountRoutes registers introspection and publish endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAll(rbac.PermSystemMonitor))
		gr.Get("/principals", h.handlePrincipals)
		gr.Get("/channels", h.handleChannels)
		gr.Get("/channels/{channel}", h.handleChannel)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAll(rbac.PermEventsPublish))
		gr.Post("/events", h.handlePublish)
	})
}
