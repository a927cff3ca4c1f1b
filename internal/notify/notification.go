// Package notify translates domain events (boardings, arrivals, delays,
// emergencies) into recipient-addressed notifications and dispatches them
// through the transport gateway, with an external-channel fallback hook.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders notifications and derives their expiry.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// TTL returns how long a notification of this priority stays deliverable.
func (p Priority) TTL() time.Duration {
	switch p {
	case PriorityCritical:
		return 72 * time.Hour
	case PriorityHigh:
		return 48 * time.Hour
	case PriorityMedium:
		return 24 * time.Hour
	default:
		return 12 * time.Hour
	}
}

// Notification is an immutable recipient-addressed message. An empty Recipients
// list with Broadcast set means delivery to every connected user.
type Notification struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Priority   Priority               `json:"priority"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	CreatedAt  time.Time              `json:"timestamp"`
	ExpiresAt  time.Time              `json:"expires_at"`
	Recipients []string               `json:"recipients,omitempty"`
	Broadcast  bool                   `json:"-"`
	Read       bool                   `json:"read"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewNotification builds a notification with a fresh id and an expiry derived
// from the priority (critical +72h, high +48h, medium +24h, low +12h).
func NewNotification(eventType EventType, priority Priority, title, message string, recipients []string, data map[string]interface{}) *Notification {
	now := time.Now().UTC()
	return &Notification{
		ID:         uuid.NewString(),
		Type:       eventType,
		Priority:   priority,
		Title:      title,
		Message:    message,
		CreatedAt:  now,
		ExpiresAt:  now.Add(priority.TTL()),
		Recipients: recipients,
		Broadcast:  len(recipients) == 0,
		Data:       data,
	}
}

// Expired reports whether the notification is past its expiry at the given time.
func (n *Notification) Expired(now time.Time) bool {
	return now.After(n.ExpiresAt)
}
