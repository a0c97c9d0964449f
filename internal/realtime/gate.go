package realtime

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-live/internal/rbac"
)

// defaultRequirements is the built-in channel policy. Channels absent from the
// table are open to any authenticated principal.
var defaultRequirements = map[Channel][]rbac.Permission{
	ChannelDashboard:        {rbac.PermDashboardView},
	ChannelBookingUpdates:   {rbac.PermBookingView},
	ChannelFinancialUpdates: {rbac.PermFinancialView},
}

// Gate decides whether a permission set may join a channel. A gated channel
// requires ALL of its listed permissions.
type Gate struct {
	required map[Channel][]rbac.Permission
}

// NewGate builds a Gate from the built-in policy with per-channel overrides
// from the policy document. An override with no permissions opens the channel.
func NewGate(overrides map[string][]rbac.Permission) (*Gate, error) {
	required := make(map[Channel][]rbac.Permission, len(channels))
	for ch, perms := range defaultRequirements {
		required[ch] = append([]rbac.Permission(nil), perms...)
	}
	for name, perms := range overrides {
		ch, ok := ParseChannel(name)
		if !ok {
			return nil, fmt.Errorf("%w: %w: %q", rbac.ErrConfig, ErrUnknownChannel, name)
		}
		for _, p := range perms {
			if !rbac.IsKnown(p) {
				return nil, fmt.Errorf("%w: %w: channel %q requires %q", rbac.ErrConfig, rbac.ErrUnknownPermission, name, p)
			}
		}
		if len(perms) == 0 {
			delete(required, ch)
			continue
		}
		required[ch] = append([]rbac.Permission(nil), perms...)
	}
	return &Gate{required: required}, nil
}

// IsOpen reports whether any authenticated principal may join ch.
func (g *Gate) IsOpen(ch Channel) bool {
	return len(g.required[ch]) == 0
}

// Requirement returns the permissions ch requires.
func (g *Gate) Requirement(ch Channel) []rbac.Permission {
	return append([]rbac.Permission(nil), g.required[ch]...)
}

// CanJoin reports whether perms satisfy the policy of ch.
func (g *Gate) CanJoin(perms rbac.PermissionSet, ch Channel) bool {
	if _, ok := ParseChannel(string(ch)); !ok {
		return false
	}
	return perms.ContainsAll(g.required[ch]...)
}

// DefaultChannelsFor returns the open channels plus every gated channel perms
// already satisfy, in catalog order.
func (g *Gate) DefaultChannelsFor(perms rbac.PermissionSet) []Channel {
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if g.CanJoin(perms, ch) {
			out = append(out, ch)
		}
	}
	return out
}
