package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRoleKey is the session value holding the principal's role name. It
// is written by the login flow that owns session creation.
const SessionRoleKey = "role"

// SessionManager reads cookie based sessions backed by Redis. Sessions are
// issued elsewhere; this service only resolves them.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
}

// Session holds per-request session data.
type Session struct {
	ID     string
	values map[string]string
	userID string
}

type sessionPayload struct {
	Values map[string]string `json:"values"`
	UserID string            `json:"user_id"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
	}
}

// Load resolves the session referenced by the request cookie. A request
// without a cookie, or with an unknown session id, yields an anonymous session.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return &Session{}, nil
		}
		return nil, err
	}
	sess, err := sm.Lookup(ctx, cookie.Value)
	if errors.Is(err, ErrSessionNotFound) {
		return &Session{ID: cookie.Value}, nil
	}
	return sess, err
}

// Lookup fetches a stored session by id.
func (sm *SessionManager) Lookup(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrSessionNotFound
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	return &Session{ID: id, values: stored.Values, userID: stored.UserID}, nil
}

// Store persists a session payload. Used by tooling and tests that stand in
// for the login flow.
func (sm *SessionManager) Store(ctx context.Context, id, userID, role string) error {
	data, err := json.Marshal(sessionPayload{
		Values: map[string]string{SessionRoleKey: role},
		UserID: userID,
	})
	if err != nil {
		return err
	}
	return sm.client.Set(ctx, sm.redisKey(id), data, sm.ttl).Err()
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s == nil || s.values == nil {
		return ""
	}
	return s.values[key]
}

// User returns the current user ID.
func (s *Session) User() string {
	if s == nil {
		return ""
	}
	return s.userID
}

// Role returns the role stored in the session.
func (s *Session) Role() string {
	return s.Get(SessionRoleKey)
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}
