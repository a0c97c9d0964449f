package realtimehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-live/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-live/internal/rbac"
	"github.com/odyssey-erp/odyssey-live/internal/realtime"
)

// Hub is the subset of the realtime hub the HTTP layer needs.
type Hub interface {
	SendDashboardUpdate(event realtime.UpdateEvent) realtime.Delivery
	ConnectedPrincipals() []realtime.PrincipalInfo
	ChannelMembership(ch realtime.Channel) []string
}

// Handler serves the websocket endpoint plus introspection and publish APIs.
type Handler struct {
	logger    *slog.Logger
	hub       Hub
	gate      *realtime.Gate
	socket    http.Handler
	publisher realtime.Publisher
	rbac      rbac.Middleware
	validate  *validator.Validate
	now       func() time.Time
}

// HandlerParams groups Handler dependencies. Publisher is optional: without
// it events posted over HTTP are routed by the local hub only.
type HandlerParams struct {
	Logger    *slog.Logger
	Hub       Hub
	Gate      *realtime.Gate
	Socket    http.Handler
	Publisher realtime.Publisher
	RBAC      rbac.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(params HandlerParams) *Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		hub:       params.Hub,
		gate:      params.Gate,
		socket:    params.Socket,
		publisher: params.Publisher,
		rbac:      params.RBAC,
		validate:  validator.New(),
		now:       time.Now,
	}
}

type channelView struct {
	Name     realtime.Channel `json:"name"`
	Open     bool             `json:"open"`
	Requires []string         `json:"requires,omitempty"`
	Members  []string         `json:"members"`
}

type publishRequest struct {
	Type               string          `json:"type" validate:"required"`
	Data               json.RawMessage `json:"data"`
	Timestamp          *time.Time      `json:"timestamp"`
	AffectedPrincipals []string        `json:"affected_principals" validate:"omitempty,dive,required"`
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	h.socket.ServeHTTP(w, r)
}

func (h *Handler) handlePrincipals(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"principals": h.hub.ConnectedPrincipals()})
}

func (h *Handler) handleChannels(w http.ResponseWriter, r *http.Request) {
	chans := realtime.Channels()
	out := make([]channelView, 0, len(chans))
	for _, ch := range chans {
		out = append(out, h.channelView(ch))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"channels": out})
}

func (h *Handler) handleChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := realtime.ParseChannel(chi.URLParam(r, "channel"))
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrNotFound, realtime.ErrUnknownChannel))
		return
	}
	httpx.JSON(w, http.StatusOK, h.channelView(ch))
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	event, err := h.toEvent(req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.publisher == nil {
		httpx.JSON(w, http.StatusOK, h.hub.SendDashboardUpdate(event))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Error("realtime publish", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}

func (h *Handler) toEvent(req publishRequest) (realtime.UpdateEvent, error) {
	if err := h.validate.Struct(req); err != nil {
		return realtime.UpdateEvent{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	kind, err := realtime.ParseEventKind(req.Type)
	if err != nil {
		return realtime.UpdateEvent{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	ts := h.now().UTC()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = req.Timestamp.UTC()
	}
	return realtime.UpdateEvent{
		Kind:               kind,
		Data:               req.Data,
		Timestamp:          ts,
		AffectedPrincipals: req.AffectedPrincipals,
	}, nil
}

func (h *Handler) channelView(ch realtime.Channel) channelView {
	view := channelView{Name: ch, Open: true, Members: h.hub.ChannelMembership(ch)}
	if h.gate != nil {
		view.Open = h.gate.IsOpen(ch)
		for _, p := range h.gate.Requirement(ch) {
			view.Requires = append(view.Requires, string(p))
		}
	}
	return view
}

var errNoSocket = errors.New("realtime: websocket transport not configured")
