// Package ws carries realtime frames over websockets.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odyssey-erp/odyssey-live/internal/realtime"
)

// Config tunes transport behaviour.
type Config struct {
	SendBuffer      int
	MaxMessageBytes int64
	AuthDeadline    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	AllowedOrigins  []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.AuthDeadline <= 0 {
		c.AuthDeadline = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Server upgrades HTTP requests and pumps frames between sockets and the hub.
type Server struct {
	hub      *realtime.Hub
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewServer constructs a Server.
func NewServer(hub *realtime.Hub, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	s := &Server{
		hub:     hub,
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("realtime upgrade", slog.Any("error", err))
		return
	}
	client := newClient(conn, s.cfg.SendBuffer)
	s.track(client)
	defer s.untrack(client)

	connID := s.hub.Open(client)
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writePump(s.cfg.PingInterval, s.cfg.WriteWait)
	}()
	s.readPump(r, connID, client)
	<-done
}

// Shutdown closes every open socket. Each close runs the normal disconnect
// cleanup.
func (s *Server) Shutdown() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.shutdown(websocket.CloseGoingAway, "server shutdown")
	}
}

// readPump owns the socket for reads. Frames are handed to a single dispatch
// goroutine so a slow authentication never stops the loop from seeing the
// socket close; the hub is told about the disconnect as soon as reads fail.
func (s *Server) readPump(r *http.Request, connID string, c *Client) {
	ctx, cancel := context.WithCancel(r.Context())
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	frames := make(chan realtime.Envelope, s.cfg.SendBuffer)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		s.dispatch(ctx, connID, c, frames)
	}()

	var cause error
	defer func() {
		s.hub.Disconnect(connID, cause)
		c.shutdown(websocket.CloseNormalClosure, "")
		cancel()
		close(frames)
		<-dispatched
	}()

	c.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.AuthDeadline))
	c.conn.SetPongHandler(func(string) error {
		if !c.authenticated.Load() {
			return nil
		}
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("realtime transport failure", slog.String("conn", connID), slog.Any("error", err))
			}
			cause = err
			return
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug("realtime discard malformed frame", slog.String("conn", connID), slog.Any("error", err))
			continue
		}
		select {
		case frames <- env:
		case <-ctx.Done():
			cause = ctx.Err()
			return
		}
	}
}

// dispatch feeds frames to the hub in arrival order until frames is closed.
// Frames still queued after the connection starts closing are dropped.
func (s *Server) dispatch(ctx context.Context, connID string, c *Client, frames <-chan realtime.Envelope) {
	for env := range frames {
		if ctx.Err() != nil {
			continue
		}
		err := s.hub.Handle(ctx, connID, env)
		if errors.Is(err, realtime.ErrAuthentication) {
			c.shutdown(websocket.ClosePolicyViolation, "authentication failed")
			continue
		}
		if !c.authenticated.Load() && s.hub.State(connID) == realtime.StateAuthenticated {
			c.authenticated.Store(true)
			_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		}
	}
}

func (s *Server) track(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
