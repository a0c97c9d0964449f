package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType names a wire frame.
type MessageType string

// Inbound frames.
const (
	MsgAuthenticate       MessageType = "authenticate"
	MsgJoinRoom           MessageType = "join_room"
	MsgLeaveRoom          MessageType = "leave_room"
	MsgSubscribeDashboard MessageType = "subscribe_dashboard"
	MsgUserActivity       MessageType = "user_activity"
)

// Outbound frames.
const (
	MsgAuthenticated       MessageType = "authenticated"
	MsgAuthError           MessageType = "auth_error"
	MsgRoomJoined          MessageType = "room_joined"
	MsgRoomError           MessageType = "room_error"
	MsgRoomLeft            MessageType = "room_left"
	MsgDashboardSubscribed MessageType = "dashboard_subscribed"
	MsgDashboardUpdate     MessageType = "dashboard_update"
	MsgUserOnline          MessageType = "user_online"
	MsgUserOffline         MessageType = "user_offline"
	MsgActivityUpdate      MessageType = "activity_update"
	// MsgError rejects a malformed frame that has no more specific error type.
	MsgError MessageType = "error"
)

// Envelope is the JSON frame exchanged over the transport.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthenticatePayload carries the session credential.
type AuthenticatePayload struct {
	Credential string `json:"credential" validate:"required"`
}

// RoomPayload names a channel to join or leave.
type RoomPayload struct {
	Channel string `json:"channel" validate:"required"`
}

// SubscribeDashboardPayload carries opaque dashboard filters.
type SubscribeDashboardPayload struct {
	Filters map[string]any `json:"filters"`
}

// ActivityPayload carries an opaque client activity description.
type ActivityPayload struct {
	Payload json.RawMessage `json:"payload"`
}

type authenticatedData struct {
	Principal   string    `json:"principal"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	Channels    []Channel `json:"channels"`
}

type authErrorData struct {
	Message string `json:"message"`
}

type errorData struct {
	Message string      `json:"message"`
	Request MessageType `json:"request"`
}

type roomData struct {
	Channel Channel `json:"channel"`
}

type roomErrorData struct {
	Message string `json:"message"`
	Channel string `json:"channel"`
}

type dashboardSubscribedData struct {
	Filters   map[string]any `json:"filters"`
	Timestamp time.Time      `json:"timestamp"`
}

type dashboardUpdateData struct {
	Type      EventKind       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type presenceData struct {
	Principal string    `json:"principal"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

type activityUpdateData struct {
	Principal string          `json:"principal"`
	Role      string          `json:"role"`
	Activity  json.RawMessage `json:"activity,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// encodeFrame serializes an outbound frame once so fan-out can share it.
func encodeFrame(t MessageType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode %s: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: raw})
}

// DecodePayload unmarshals the envelope data into dst.
func DecodePayload(env Envelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrInvalidMessage, env.Type)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}
	return nil
}
