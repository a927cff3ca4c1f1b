package gateway

import (
	"encoding/json"
	"time"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound message types.
const (
	TypePing                     = "ping"
	TypeSubscribeNotifications   = "subscribe_notifications"
	TypeUnsubscribeNotifications = "unsubscribe_notifications"
	TypeJoinGroup                = "join_group"
	TypeLeaveGroup               = "leave_group"
	TypeSendNotification         = "send_notification"
)

// Outbound message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypePong                  = "pong"
	TypeGroupJoined           = "group_joined"
	TypeGroupLeft             = "group_left"
	TypeNotificationSent      = "notification_sent"
	TypeNotification          = "notification"
	TypeError                 = "error"
)

// notificationsGroup is the implicit group carrying broadcast notifications.
const notificationsGroup = "notifications"

// GroupData is the payload of join_group and leave_group.
type GroupData struct {
	GroupID string `json:"group_id"`
}

// SendNotificationData is the payload of the admin send_notification command.
type SendNotificationData struct {
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Priority   string                 `json:"priority,omitempty"`
	Recipients []string               `json:"recipients,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// EstablishedData is the payload of connection_established.
type EstablishedData struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	ServerTime   time.Time `json:"server_time"`
}

// PongData echoes the server time back to the client.
type PongData struct {
	ServerTime time.Time `json:"server_time"`
}

// AckData acknowledges group membership changes and sent notifications.
type AckData struct {
	GroupID        string `json:"group_id,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	Delivered      int    `json:"delivered,omitempty"`
}

// ErrorData carries a human-readable rejection reason. Internal detail never
// crosses the transport boundary.
type ErrorData struct {
	Message string `json:"message"`
}

// marshalFrame builds a complete outbound frame. Marshal failures cannot
// happen for the payload types used here; a nil return signals a programming
// error and the frame is dropped.
func marshalFrame(frameType string, payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	b, err := json.Marshal(Envelope{Type: frameType, Data: data})
	if err != nil {
		return nil
	}
	return b
}
