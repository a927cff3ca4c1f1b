package notify

// EventType is the closed set of domain events the router understands. The wire
// strings are the event names used across the Kanghoo platform.
type EventType string

const (
	EventChildBoarded    EventType = "crianca_embarcou"
	EventChildDeboarded  EventType = "crianca_desembarcou"
	EventPositionUpdated EventType = "posicao_atualizada"
	EventVehicleArriving EventType = "veiculo_chegando"
	EventTripStarted     EventType = "viagem_iniciada"
	EventTripFinished    EventType = "viagem_finalizada"
	EventDelayDetected   EventType = "atraso_detectado"
	EventEmergency       EventType = "emergencia"
	EventMaintenance     EventType = "manutencao"
)

// ChildEvent is the payload for child boarded/deboarded events.
type ChildEvent struct {
	ChildID     string
	ChildName   string
	VehicleID   string
	GuardianIDs []string
}

// PositionEvent is the payload for position updates and proximity alerts.
type PositionEvent struct {
	VehicleID   string
	Lat         float64
	Lon         float64
	Speed       float64
	Label       string
	GuardianIDs []string
}

// TripEvent is the payload for trip started/finished events.
type TripEvent struct {
	TripID      string
	VehicleID   string
	RouteID     string
	DriverName  string
	GuardianIDs []string
}

// DelayEvent is the payload for delay detection.
type DelayEvent struct {
	VehicleID    string
	DelayMinutes int
	Reason       string
	GuardianIDs  []string
}

// EmergencyEvent is the payload for emergencies. Routed to every admin.
type EmergencyEvent struct {
	VehicleID string
	Message   string
	Lat       float64
	Lon       float64
}

// MaintenanceEvent is the payload for maintenance broadcasts.
type MaintenanceEvent struct {
	Message string
}

// Event pairs an event type with its payload. Payload must be the struct
// matching the type; Emit rejects mismatches.
type Event struct {
	Type    EventType
	Payload interface{}
}
