package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-live/internal/rbac"
)

// Outbox accepts encoded frames for one transport session.
type Outbox interface {
	// Enqueue queues a frame without blocking and reports whether it was
	// accepted.
	Enqueue(frame []byte) bool
}

// Connection is one authenticated transport session.
type Connection struct {
	ID          string
	PrincipalID string
	Role        string
	Permissions rbac.PermissionSet
	ConnectedAt time.Time

	lastActivity time.Time
	channels     map[Channel]struct{}
	outbox       Outbox
}

// NewConnection prepares a connection for registration.
func NewConnection(id, principalID, role string, perms rbac.PermissionSet, outbox Outbox, now time.Time) *Connection {
	return &Connection{
		ID:           id,
		PrincipalID:  principalID,
		Role:         role,
		Permissions:  perms,
		ConnectedAt:  now,
		lastActivity: now,
		channels:     make(map[Channel]struct{}),
		outbox:       outbox,
	}
}

// ConnectionInfo is a point-in-time copy of a registered connection.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	PrincipalID  string    `json:"principal"`
	Role         string    `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Channels     []Channel `json:"channels"`
}

// PrincipalInfo summarises the live connections of one principal.
type PrincipalInfo struct {
	PrincipalID string           `json:"principal"`
	Role        string           `json:"role"`
	Connections []ConnectionInfo `json:"connections"`
}

type target struct {
	connID      string
	principalID string
	outbox      Outbox
}

// Registry tracks live connections and the channel membership index. Every
// method is a single atomic step under one lock, which linearizes mutations
// on the same connection id.
type Registry struct {
	gate *Gate
	now  func() time.Time

	mu          sync.RWMutex
	conns       map[string]*Connection
	byPrincipal map[string]map[string]struct{}
	// members maps channel -> principal -> connection ids joined to it.
	members map[Channel]map[string]map[string]struct{}
}

// NewRegistry constructs an empty Registry guarded by gate.
func NewRegistry(gate *Gate) *Registry {
	return &Registry{
		gate:        gate,
		now:         time.Now,
		conns:       make(map[string]*Connection),
		byPrincipal: make(map[string]map[string]struct{}),
		members:     make(map[Channel]map[string]map[string]struct{}),
	}
}

// Register adds a connection. It reports whether this is the principal's
// first live connection.
func (r *Registry) Register(c *Connection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[c.ID]; exists {
		return false, ErrDuplicateConnection
	}
	if c.channels == nil {
		c.channels = make(map[Channel]struct{})
	}
	r.conns[c.ID] = c
	set, ok := r.byPrincipal[c.PrincipalID]
	if !ok {
		set = make(map[string]struct{})
		r.byPrincipal[c.PrincipalID] = set
	}
	set[c.ID] = struct{}{}
	return len(set) == 1, nil
}

// RecordActivity refreshes the last-activity timestamp.
func (r *Registry) RecordActivity(connID string) (ConnectionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return ConnectionInfo{}, ErrUnknownConnection
	}
	c.lastActivity = r.now()
	return c.info(), nil
}

// Deregister removes a connection from every channel and the registry. last
// reports whether no other connection of the same principal remains.
func (r *Registry) Deregister(connID string) (info ConnectionInfo, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.conns[connID]
	if !found {
		return ConnectionInfo{}, false, false
	}
	info = c.info()
	for ch := range c.channels {
		r.unindex(ch, c)
	}
	c.channels = make(map[Channel]struct{})
	delete(r.conns, connID)
	if set, ok := r.byPrincipal[c.PrincipalID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byPrincipal, c.PrincipalID)
			last = true
		}
	}
	return info, last, true
}

// Join subscribes a connection to ch after consulting the gate. A refused
// join leaves all state untouched. Repeating a join is a no-op with the same
// nil result.
func (r *Registry) Join(connID string, ch Channel) error {
	if _, ok := ParseChannel(string(ch)); !ok {
		return ErrUnknownChannel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if !r.gate.CanJoin(c.Permissions, ch) {
		return ErrAccessDenied
	}
	if _, member := c.channels[ch]; member {
		return nil
	}
	c.channels[ch] = struct{}{}
	principals, ok := r.members[ch]
	if !ok {
		principals = make(map[string]map[string]struct{})
		r.members[ch] = principals
	}
	conns, ok := principals[c.PrincipalID]
	if !ok {
		conns = make(map[string]struct{})
		principals[c.PrincipalID] = conns
	}
	conns[c.ID] = struct{}{}
	return nil
}

// Leave unsubscribes a connection from ch. It reports whether the connection
// was a member.
func (r *Registry) Leave(connID string, ch Channel) (bool, error) {
	if _, ok := ParseChannel(string(ch)); !ok {
		return false, ErrUnknownChannel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return false, ErrUnknownConnection
	}
	if _, member := c.channels[ch]; !member {
		return false, nil
	}
	delete(c.channels, ch)
	r.unindex(ch, c)
	return true, nil
}

func (r *Registry) unindex(ch Channel, c *Connection) {
	principals, ok := r.members[ch]
	if !ok {
		return
	}
	conns, ok := principals[c.PrincipalID]
	if !ok {
		return
	}
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(principals, c.PrincipalID)
	}
	if len(principals) == 0 {
		delete(r.members, ch)
	}
}

// Connection returns a snapshot of a registered connection.
func (r *Registry) Connection(connID string) (ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return ConnectionInfo{}, false
	}
	return c.info(), true
}

// ChannelMembership lists the principals with at least one connection joined
// to ch, sorted.
func (r *Registry) ChannelMembership(ch Channel) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	principals := r.members[ch]
	out := make([]string, 0, len(principals))
	for id := range principals {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ConnectedPrincipals lists every principal with live connections.
func (r *Registry) ConnectedPrincipals() []PrincipalInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PrincipalInfo, 0, len(r.byPrincipal))
	for principalID, ids := range r.byPrincipal {
		info := PrincipalInfo{PrincipalID: principalID}
		for id := range ids {
			c := r.conns[id]
			info.Role = c.Role
			info.Connections = append(info.Connections, c.info())
		}
		sort.Slice(info.Connections, func(i, j int) bool {
			return info.Connections[i].ID < info.Connections[j].ID
		})
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) channelTargets(ch Channel) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []target
	for principalID, ids := range r.members[ch] {
		for id := range ids {
			out = append(out, target{connID: id, principalID: principalID, outbox: r.conns[id].outbox})
		}
	}
	return out
}

func (r *Registry) principalTargets(principalID string) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byPrincipal[principalID]
	out := make([]target, 0, len(ids))
	for id := range ids {
		out = append(out, target{connID: id, principalID: principalID, outbox: r.conns[id].outbox})
	}
	return out
}

func (r *Registry) roleTargets(role string) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []target
	for id, c := range r.conns {
		if c.Role == role {
			out = append(out, target{connID: id, principalID: c.PrincipalID, outbox: c.outbox})
		}
	}
	return out
}

func (c *Connection) info() ConnectionInfo {
	chans := make([]Channel, 0, len(c.channels))
	for _, ch := range channels {
		if _, ok := c.channels[ch]; ok {
			chans = append(chans, ch)
		}
	}
	return ConnectionInfo{
		ID:           c.ID,
		PrincipalID:  c.PrincipalID,
		Role:         c.Role,
		ConnectedAt:  c.ConnectedAt,
		LastActivity: c.lastActivity,
		Channels:     chans,
	}
}
