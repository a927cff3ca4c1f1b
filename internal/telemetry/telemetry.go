// Package telemetry publishes operational events (connections, denials,
// deliveries, tracking milestones) to Kafka for offline analysis.
package telemetry

import (
	"context"
	"time"
)

// Event is a single operational event.
type Event struct {
	Kind      string                 `json:"kind"`
	UserID    string                 `json:"user_id,omitempty"`
	RemoteIP  string                 `json:"remote_ip,omitempty"`
	VehicleID string                 `json:"vehicle_id,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	At        time.Time              `json:"at"`
}

// Event kinds emitted by the gateway and tracking engine.
const (
	KindConnectionOpened   = "connection_opened"
	KindConnectionClosed   = "connection_closed"
	KindAdmissionDenied    = "admission_denied"
	KindMessageDenied      = "message_denied"
	KindNotificationSent   = "notification_sent"
	KindTrackingStarted    = "tracking_started"
	KindTrackingStopped    = "tracking_stopped"
	KindGeofenceTriggered  = "geofence_triggered"
	KindSpeedLimitExceeded = "speed_limit_exceeded"
)

// EventEmitter publishes events to a backing transport.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
