package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-live/internal/auth"
	"github.com/odyssey-erp/odyssey-live/internal/rbac"
	"github.com/odyssey-erp/odyssey-live/internal/shared"
)

// State is the lifecycle position of a transport session.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// HubConfig collects the hub's collaborators.
type HubConfig struct {
	Authority   auth.Authority
	Resolver    *rbac.Resolver
	Gate        *Gate
	Registry    *Registry
	Router      *Router
	Logger      *slog.Logger
	Metrics     *Metrics
	AuthTimeout time.Duration
}

type session struct {
	state  State
	outbox Outbox
}

// Hub drives connections through authenticate, join/leave, activity and
// disconnect. Callers must feed each connection's frames sequentially; frames
// of different connections may interleave freely.
type Hub struct {
	authority   auth.Authority
	resolver    *rbac.Resolver
	gate        *Gate
	registry    *Registry
	router      *Router
	logger      *slog.Logger
	metrics     *Metrics
	validate    *validator.Validate
	authTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewHub constructs a Hub.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.AuthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Hub{
		authority:   cfg.Authority,
		resolver:    cfg.Resolver,
		gate:        cfg.Gate,
		registry:    cfg.Registry,
		router:      cfg.Router,
		logger:      logger,
		metrics:     cfg.Metrics,
		validate:    validator.New(),
		authTimeout: timeout,
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
}

// Open allocates a transport id for a freshly established transport.
func (h *Hub) Open(outbox Outbox) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.sessions[id] = &session{state: StateConnecting, outbox: outbox}
	h.mu.Unlock()
	return id
}

// State reports the lifecycle state of connID.
func (h *Hub) State(connID string) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[connID]; ok {
		return s.state
	}
	return StateDisconnected
}

// Handle dispatches one inbound frame. Only an ErrAuthentication result
// requires the transport to close; every other error has already been
// reported to the connection.
func (h *Hub) Handle(ctx context.Context, connID string, env Envelope) error {
	switch env.Type {
	case MsgAuthenticate:
		var p AuthenticatePayload
		if err := h.decode(env, &p); err != nil {
			h.reply(connID, MsgAuthError, authErrorData{Message: "credential required"})
			if h.State(connID) == StateAuthenticated {
				return err
			}
			h.failAuthentication(connID)
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return h.Authenticate(ctx, connID, p.Credential)
	case MsgJoinRoom, MsgLeaveRoom:
		if err := h.requireAuthenticated(connID); err != nil {
			return err
		}
		var p RoomPayload
		if err := h.decode(env, &p); err != nil {
			h.reply(connID, MsgRoomError, roomErrorData{Message: "channel required"})
			return err
		}
		if env.Type == MsgJoinRoom {
			return h.Join(connID, p.Channel)
		}
		return h.Leave(connID, p.Channel)
	case MsgSubscribeDashboard:
		if err := h.requireAuthenticated(connID); err != nil {
			return err
		}
		var p SubscribeDashboardPayload
		if len(env.Data) > 0 {
			if err := h.decode(env, &p); err != nil {
				h.reply(connID, MsgError, errorData{Message: "invalid filters", Request: env.Type})
				return err
			}
		}
		return h.SubscribeDashboard(connID, p.Filters)
	case MsgUserActivity:
		if err := h.requireAuthenticated(connID); err != nil {
			return err
		}
		var p ActivityPayload
		if len(env.Data) > 0 {
			if err := h.decode(env, &p); err != nil {
				h.reply(connID, MsgError, errorData{Message: "invalid activity payload", Request: env.Type})
				return err
			}
		}
		return h.Activity(connID, p.Payload)
	default:
		h.logger.Debug("realtime unknown frame", slog.String("conn", connID), slog.String("type", string(env.Type)))
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidMessage, env.Type)
	}
}

// Authenticate verifies credential with the session authority. On success the
// connection is registered, auto-joined to its default channels, acked, and
// announced on the system channel. On failure auth_error is sent, the session
// is discarded without touching the registry, and ErrAuthentication is
// returned so the transport closes. A disconnect while verification is
// outstanding wins: the verification result is dropped.
func (h *Hub) Authenticate(ctx context.Context, connID, credential string) error {
	h.mu.Lock()
	s, ok := h.sessions[connID]
	if !ok || s.state == StateDisconnected {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	switch s.state {
	case StateAuthenticated:
		h.mu.Unlock()
		h.reply(connID, MsgAuthError, authErrorData{Message: "already authenticated"})
		return nil
	case StateAuthenticating:
		h.mu.Unlock()
		h.reply(connID, MsgAuthError, authErrorData{Message: "authentication in progress"})
		return nil
	}
	s.state = StateAuthenticating
	h.mu.Unlock()

	verifyCtx, cancel := context.WithTimeout(ctx, h.authTimeout)
	identity, err := h.authority.Verify(verifyCtx, credential)
	cancel()
	if err != nil && !h.awaitingAuthentication(connID) {
		h.logger.Info("realtime auth resolved after disconnect", slog.String("conn", connID), slog.Any("error", err))
		return ErrUnknownConnection
	}
	if err != nil {
		message := "invalid or expired credential"
		if !errors.Is(err, shared.ErrInvalidCredentials) {
			message = "authentication unavailable"
			h.logger.Error("realtime verify credential", slog.String("conn", connID), slog.Any("error", err))
		}
		h.metrics.authResult("failure")
		h.reply(connID, MsgAuthError, authErrorData{Message: message})
		h.failAuthentication(connID)
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	perms := h.resolver.EffectivePermissions(identity.Role)
	defaults := h.gate.DefaultChannelsFor(perms)

	h.mu.Lock()
	s, ok = h.sessions[connID]
	if !ok || s.state != StateAuthenticating {
		h.mu.Unlock()
		h.logger.Info("realtime auth resolved after disconnect", slog.String("conn", connID))
		return ErrUnknownConnection
	}
	conn := NewConnection(connID, identity.PrincipalID, identity.Role, perms, s.outbox, h.now())
	if _, err := h.registry.Register(conn); err != nil {
		h.mu.Unlock()
		return err
	}
	joined := make([]Channel, 0, len(defaults))
	for _, ch := range defaults {
		if err := h.registry.Join(connID, ch); err == nil {
			joined = append(joined, ch)
		}
	}
	s.state = StateAuthenticated
	h.mu.Unlock()

	h.metrics.authResult("success")
	h.metrics.connectionOpened()
	h.logger.Info("realtime authenticated",
		slog.String("conn", connID),
		slog.String("principal", identity.PrincipalID),
		slog.String("role", identity.Role))

	h.reply(connID, MsgAuthenticated, authenticatedData{
		Principal:   identity.PrincipalID,
		Role:        identity.Role,
		Permissions: perms.Sorted(),
		Channels:    joined,
	})
	h.router.Publish(ChannelSystem, MsgUserOnline, presenceData{
		Principal: identity.PrincipalID,
		Role:      identity.Role,
		Timestamp: h.now().UTC(),
	})
	return nil
}

// Join subscribes the connection to a channel, re-checking the access gate.
func (h *Hub) Join(connID, name string) error {
	if err := h.requireAuthenticated(connID); err != nil {
		return err
	}
	ch, ok := ParseChannel(name)
	if !ok {
		h.metrics.joinResult("unknown", "unknown_channel")
		h.reply(connID, MsgRoomError, roomErrorData{Message: "unknown channel", Channel: name})
		return ErrUnknownChannel
	}
	err := h.registry.Join(connID, ch)
	switch {
	case err == nil:
		h.metrics.joinResult(name, "joined")
		h.reply(connID, MsgRoomJoined, roomData{Channel: ch})
		return nil
	case errors.Is(err, ErrAccessDenied):
		h.metrics.joinResult(name, "denied")
		h.reply(connID, MsgRoomError, roomErrorData{Message: "access denied", Channel: name})
		return err
	case errors.Is(err, ErrUnknownConnection):
		h.reply(connID, MsgAuthError, authErrorData{Message: "not authenticated"})
		return ErrNotAuthenticated
	default:
		return err
	}
}

// Leave unsubscribes the connection from a channel. Leaving a channel the
// connection never joined is acknowledged as well.
func (h *Hub) Leave(connID, name string) error {
	if err := h.requireAuthenticated(connID); err != nil {
		return err
	}
	ch, ok := ParseChannel(name)
	if !ok {
		h.reply(connID, MsgRoomError, roomErrorData{Message: "unknown channel", Channel: name})
		return ErrUnknownChannel
	}
	if _, err := h.registry.Leave(connID, ch); err != nil {
		if errors.Is(err, ErrUnknownConnection) {
			h.reply(connID, MsgAuthError, authErrorData{Message: "not authenticated"})
			return ErrNotAuthenticated
		}
		return err
	}
	h.reply(connID, MsgRoomLeft, roomData{Channel: ch})
	return nil
}

// SubscribeDashboard acknowledges dashboard filters. Filter semantics belong
// to the dashboard itself; nothing is stored here.
func (h *Hub) SubscribeDashboard(connID string, filters map[string]any) error {
	if err := h.requireAuthenticated(connID); err != nil {
		return err
	}
	if filters == nil {
		filters = map[string]any{}
	}
	h.reply(connID, MsgDashboardSubscribed, dashboardSubscribedData{Filters: filters, Timestamp: h.now().UTC()})
	return nil
}

// Activity records client activity and fans it out on the system channel.
func (h *Hub) Activity(connID string, payload json.RawMessage) error {
	if err := h.requireAuthenticated(connID); err != nil {
		return err
	}
	info, err := h.registry.RecordActivity(connID)
	if err != nil {
		return err
	}
	h.router.Publish(ChannelSystem, MsgActivityUpdate, activityUpdateData{
		Principal: info.PrincipalID,
		Role:      info.Role,
		Activity:  payload,
		Timestamp: info.LastActivity.UTC(),
	})
	return nil
}

// Disconnect tears the connection down exactly once. The principal is
// announced offline only when its last live connection goes away. Repeated
// calls are no-ops.
func (h *Hub) Disconnect(connID string, cause error) {
	h.mu.Lock()
	s, ok := h.sessions[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	wasAuthenticated := s.state == StateAuthenticated
	s.state = StateDisconnected
	delete(h.sessions, connID)
	h.mu.Unlock()

	if !wasAuthenticated {
		return
	}
	info, last, ok := h.registry.Deregister(connID)
	if !ok {
		return
	}
	h.metrics.connectionClosed()
	attrs := []any{slog.String("conn", connID), slog.String("principal", info.PrincipalID)}
	if cause != nil {
		attrs = append(attrs, slog.Any("cause", cause))
	}
	h.logger.Info("realtime disconnected", attrs...)
	if last {
		h.router.Publish(ChannelSystem, MsgUserOffline, presenceData{
			Principal: info.PrincipalID,
			Role:      info.Role,
			Timestamp: h.now().UTC(),
		})
	}
}

// SendDashboardUpdate is the entry point for feature code pushing events.
func (h *Hub) SendDashboardUpdate(event UpdateEvent) Delivery {
	return h.router.Route(event)
}

// BroadcastToPrincipal delivers event to every connection of principalID.
func (h *Hub) BroadcastToPrincipal(event UpdateEvent, principalID string) Delivery {
	return h.router.BroadcastToPrincipal(event, principalID)
}

// BroadcastToRole delivers event to every connection holding role.
func (h *Hub) BroadcastToRole(event UpdateEvent, role string) Delivery {
	return h.router.BroadcastToRole(event, role)
}

// ConnectedPrincipals lists principals with live connections.
func (h *Hub) ConnectedPrincipals() []PrincipalInfo {
	return h.registry.ConnectedPrincipals()
}

// ChannelMembership lists principals joined to ch.
func (h *Hub) ChannelMembership(ch Channel) []string {
	return h.registry.ChannelMembership(ch)
}

// DefaultChannelsFor returns the channels a role is auto-joined to.
func (h *Hub) DefaultChannelsFor(role string) []Channel {
	return h.gate.DefaultChannelsFor(h.resolver.EffectivePermissions(role))
}

func (h *Hub) awaitingAuthentication(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[connID]
	return ok && s.state == StateAuthenticating
}

func (h *Hub) failAuthentication(connID string) {
	h.mu.Lock()
	if s, ok := h.sessions[connID]; ok && s.state != StateAuthenticated {
		s.state = StateDisconnected
		delete(h.sessions, connID)
	}
	h.mu.Unlock()
}

func (h *Hub) requireAuthenticated(connID string) error {
	if h.State(connID) == StateAuthenticated {
		return nil
	}
	h.reply(connID, MsgAuthError, authErrorData{Message: "not authenticated"})
	return ErrNotAuthenticated
}

// reply sends an ack to the originating connection only.
func (h *Hub) reply(connID string, t MessageType, data any) {
	h.mu.Lock()
	s, ok := h.sessions[connID]
	h.mu.Unlock()
	if !ok {
		return
	}
	frame, err := encodeFrame(t, data)
	if err != nil {
		h.logger.Error("realtime reply encode", slog.String("type", string(t)), slog.Any("error", err))
		return
	}
	if !s.outbox.Enqueue(frame) {
		h.logger.Warn("realtime reply dropped", slog.String("conn", connID), slog.String("type", string(t)))
	}
}

func (h *Hub) decode(env Envelope, dst any) error {
	if err := DecodePayload(env, dst); err != nil {
		return err
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}
