package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind enumerates update event types. Adding a kind requires a name and
// a route below; the array length assertions fail the build otherwise.
type EventKind uint8

const (
	KindBookingUpdate EventKind = iota
	KindPropertyUpdate
	KindMetricUpdate
	KindFinancialUpdate
	KindAlert
	KindActivity

	numEventKinds
)

var kindNames = [...]string{
	KindBookingUpdate:   "booking_update",
	KindPropertyUpdate:  "property_update",
	KindMetricUpdate:    "metric_update",
	KindFinancialUpdate: "financial_update",
	KindAlert:           "alert",
	KindActivity:        "activity",
}

var kindRoutes = [...]Channel{
	KindBookingUpdate:   ChannelBookingUpdates,
	KindPropertyUpdate:  ChannelDashboard,
	KindMetricUpdate:    ChannelDashboard,
	KindFinancialUpdate: ChannelFinancialUpdates,
	KindAlert:           ChannelNotifications,
	KindActivity:        ChannelSystem,
}

var (
	_ = [1]struct{}{}[len(kindNames)-int(numEventKinds)]
	_ = [1]struct{}{}[len(kindRoutes)-int(numEventKinds)]
)

// EventKinds lists every kind in declaration order.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, numEventKinds)
	for k := EventKind(0); k < numEventKinds; k++ {
		out = append(out, k)
	}
	return out
}

// ParseEventKind maps a wire name to an EventKind.
func ParseEventKind(name string) (EventKind, error) {
	for k, n := range kindNames {
		if n == name {
			return EventKind(k), nil
		}
	}
	return 0, fmt.Errorf("realtime: unknown event kind %q", name)
}

func (k EventKind) String() string {
	if k >= numEventKinds {
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Channel returns the primary destination channel for k.
func (k EventKind) Channel() Channel {
	if k >= numEventKinds {
		return ""
	}
	return kindRoutes[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	if k >= numEventKinds {
		return nil, fmt.Errorf("realtime: invalid event kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEventKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UpdateEvent is a typed state-change message emitted by feature code.
// AffectedPrincipals supplements kind-based routing with direct delivery.
type UpdateEvent struct {
	Kind               EventKind       `json:"type"`
	Data               json.RawMessage `json:"data,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
	AffectedPrincipals []string        `json:"affected_principals,omitempty"`
}

// NewUpdateEvent builds an event with data encoded as JSON.
func NewUpdateEvent(kind EventKind, data any, affected ...string) (UpdateEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return UpdateEvent{}, fmt.Errorf("realtime: encode event data: %w", err)
	}
	return UpdateEvent{
		Kind:               kind,
		Data:               raw,
		Timestamp:          time.Now().UTC(),
		AffectedPrincipals: affected,
	}, nil
}
