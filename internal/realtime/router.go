package realtime

import (
	"log/slog"
	"time"
)

// Delivery counts the outboxes a frame was handed to. Delivery is
// at-most-once and best-effort: Attempted is not a receipt, and Dropped
// counts outboxes that refused the frame (full or closed).
type Delivery struct {
	Attempted int `json:"attempted"`
	Dropped   int `json:"dropped"`
}

func (d Delivery) add(other Delivery) Delivery {
	return Delivery{Attempted: d.Attempted + other.Attempted, Dropped: d.Dropped + other.Dropped}
}

// Router resolves update events to live connections and hands them the
// encoded frame.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewRouter constructs a Router over registry.
func NewRouter(registry *Registry, logger *slog.Logger, metrics *Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, logger: logger, metrics: metrics, now: time.Now}
}

// Route delivers event to every connection joined to its kind's channel, then
// directly to every live connection of each affected principal. The direct
// path skips channel authorization: the producer is trusted and authorized
// the event when it emitted it. A connection is handed the frame at most once.
func (rt *Router) Route(event UpdateEvent) Delivery {
	ch := event.Kind.Channel()
	if ch == "" {
		rt.logger.Warn("realtime route: unroutable event", slog.String("kind", event.Kind.String()))
		return Delivery{}
	}
	frame, ok := rt.dashboardFrame(event)
	if !ok {
		return Delivery{}
	}
	seen := make(map[string]struct{})
	d := rt.deliver(rt.registry.channelTargets(ch), frame, seen)
	for _, principalID := range event.AffectedPrincipals {
		d = d.add(rt.deliver(rt.registry.principalTargets(principalID), frame, seen))
	}
	return d
}

// BroadcastToPrincipal delivers event to every live connection of one
// principal regardless of channel membership.
func (rt *Router) BroadcastToPrincipal(event UpdateEvent, principalID string) Delivery {
	frame, ok := rt.dashboardFrame(event)
	if !ok {
		return Delivery{}
	}
	return rt.deliver(rt.registry.principalTargets(principalID), frame, nil)
}

// BroadcastToRole delivers event to every live connection whose role is role.
func (rt *Router) BroadcastToRole(event UpdateEvent, role string) Delivery {
	frame, ok := rt.dashboardFrame(event)
	if !ok {
		return Delivery{}
	}
	return rt.deliver(rt.registry.roleTargets(role), frame, nil)
}

// Publish sends a non-event frame, such as presence, to a channel.
func (rt *Router) Publish(ch Channel, t MessageType, data any) Delivery {
	frame, err := encodeFrame(t, data)
	if err != nil {
		rt.logger.Error("realtime publish encode", slog.String("type", string(t)), slog.Any("error", err))
		return Delivery{}
	}
	return rt.deliver(rt.registry.channelTargets(ch), frame, nil)
}

func (rt *Router) dashboardFrame(event UpdateEvent) ([]byte, bool) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = rt.now().UTC()
	}
	frame, err := encodeFrame(MsgDashboardUpdate, dashboardUpdateData{
		Type:      event.Kind,
		Data:      event.Data,
		Timestamp: ts,
	})
	if err != nil {
		rt.logger.Error("realtime route encode", slog.String("kind", event.Kind.String()), slog.Any("error", err))
		return nil, false
	}
	return frame, true
}

// deliver hands frame to each target independently. Outbox.Enqueue never
// blocks, so one slow or dead connection cannot hold up the rest.
func (rt *Router) deliver(targets []target, frame []byte, seen map[string]struct{}) Delivery {
	var d Delivery
	for _, t := range targets {
		if seen != nil {
			if _, dup := seen[t.connID]; dup {
				continue
			}
			seen[t.connID] = struct{}{}
		}
		d.Attempted++
		if !t.outbox.Enqueue(frame) {
			d.Dropped++
			rt.logger.Debug("realtime delivery dropped",
				slog.String("conn", t.connID),
				slog.String("principal", t.principalID))
		}
	}
	rt.metrics.delivered(d)
	return d
}
