package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-live/internal/auth"
	"github.com/odyssey-erp/odyssey-live/internal/rbac"
	"github.com/odyssey-erp/odyssey-live/internal/shared"
	_ "github.com/odyssey-erp/odyssey-live/testing"
)

// recordingOutbox captures frames; a closed outbox refuses them.
type recordingOutbox struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (o *recordingOutbox) Enqueue(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.frames = append(o.frames, frame)
	return true
}

func (o *recordingOutbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *recordingOutbox) envelopes(t *testing.T) []Envelope {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Envelope, 0, len(o.frames))
	for _, f := range o.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

func (o *recordingOutbox) ofType(t *testing.T, mt MessageType) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, env := range o.envelopes(t) {
		if env.Type != mt {
			continue
		}
		var data map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &data))
		out = append(out, data)
	}
	return out
}

func (o *recordingOutbox) types(t *testing.T) []MessageType {
	t.Helper()
	var out []MessageType
	for _, env := range o.envelopes(t) {
		out = append(out, env.Type)
	}
	return out
}

func (o *recordingOutbox) reset() {
	o.mu.Lock()
	o.frames = nil
	o.mu.Unlock()
}

// stubAuthority maps credentials to identities. When gate is set, Verify
// signals entered and waits for gate before answering.
type stubAuthority struct {
	identities map[string]auth.Identity
	err        error
	entered    chan struct{}
	gate       chan struct{}
}

func (a *stubAuthority) Verify(ctx context.Context, credential string) (auth.Identity, error) {
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.gate != nil {
		<-a.gate
	}
	if a.err != nil {
		return auth.Identity{}, a.err
	}
	identity, ok := a.identities[credential]
	if !ok {
		return auth.Identity{}, shared.ErrInvalidCredentials
	}
	return identity, nil
}

type testEnv struct {
	hub       *Hub
	registry  *Registry
	router    *Router
	gate      *Gate
	resolver  *rbac.Resolver
	authority *stubAuthority
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	policy, err := rbac.LoadPolicy("")
	require.NoError(t, err)
	resolver := rbac.NewResolver(policy)
	gate, err := NewGate(policy.Channels)
	require.NoError(t, err)
	registry := NewRegistry(gate)
	logger := discardLogger()
	router := NewRouter(registry, logger, nil)
	authority := &stubAuthority{identities: map[string]auth.Identity{
		"tok-user":    {PrincipalID: "P1", Role: "user"},
		"tok-staff":   {PrincipalID: "P2", Role: "staff"},
		"tok-manager": {PrincipalID: "P3", Role: "manager"},
		"tok-admin":   {PrincipalID: "P4", Role: "admin"},
		"tok-p123":    {PrincipalID: "P123", Role: "user"},
		"tok-ghost":   {PrincipalID: "P5", Role: "ghost"},
	}}
	hub := NewHub(HubConfig{
		Authority: authority,
		Resolver:  resolver,
		Gate:      gate,
		Registry:  registry,
		Router:    router,
		Logger:    logger,
	})
	return &testEnv{hub: hub, registry: registry, router: router, gate: gate, resolver: resolver, authority: authority}
}

// connect opens a transport and authenticates it with credential.
func (e *testEnv) connect(t *testing.T, credential string) (string, *recordingOutbox) {
	t.Helper()
	out := &recordingOutbox{}
	id := e.hub.Open(out)
	require.NoError(t, e.hub.Authenticate(context.Background(), id, credential))
	return id, out
}

func frame(t *testing.T, mt MessageType, data any) Envelope {
	t.Helper()
	env := Envelope{Type: mt}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		env.Data = raw
	}
	return env
}

// joinedConnection registers a connection directly, bypassing the hub.
func joinedConnection(t *testing.T, reg *Registry, id, principal, role string, perms rbac.PermissionSet, chans ...Channel) *recordingOutbox {
	t.Helper()
	out := &recordingOutbox{}
	_, err := reg.Register(NewConnection(id, principal, role, perms, out, reg.now()))
	require.NoError(t, err)
	for _, ch := range chans {
		err := reg.Join(id, ch)
		require.NoError(t, err)
	}
	return out
}
