package tracking

import "time"

// SessionStatus is the tracking-session state. Transitions are
// started -> active -> stopped; stopped is terminal.
type SessionStatus string

const (
	StatusStarted SessionStatus = "started"
	StatusActive  SessionStatus = "active"
	StatusStopped SessionStatus = "stopped"
)

// SpeedStatus classifies the vehicle's current speed against the
// configured thresholds.
type SpeedStatus string

const (
	SpeedStopped  SpeedStatus = "stopped"
	SpeedMoving   SpeedStatus = "moving"
	SpeedSpeeding SpeedStatus = "speeding"
)

// Position is a single GPS sample.
type Position struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

// DriverInfo identifies the driver of a tracking session.
type DriverInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RouteInfo carries the route and optional destination for ETA computation.
type RouteInfo struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	DestinationLat float64  `json:"destination_lat"`
	DestinationLon float64  `json:"destination_lon"`
	HasDestination bool     `json:"has_destination"`
	GuardianIDs    []string `json:"guardian_ids,omitempty"`
}

// Session is the per-vehicle tracking state. All mutation happens under
// the engine's lock; Snapshot returns a copy safe to hand out.
type Session struct {
	VehicleID   string        `json:"vehicle_id"`
	Driver      DriverInfo    `json:"driver"`
	Route       RouteInfo     `json:"route"`
	Status      SessionStatus `json:"status"`
	Current     *Position     `json:"current,omitempty"`
	SpeedStatus SpeedStatus   `json:"speed_status"`
	ETA         time.Duration `json:"eta"`
	ETAUpdated  time.Time     `json:"eta_updated"`
	StartedAt   time.Time     `json:"started_at"`
	LastUpdate  time.Time     `json:"last_update"`

	history   []Position
	histHead  int
	histCount int
}

// pushHistory appends a position to the ring buffer, evicting the oldest
// sample once the buffer is full.
func (s *Session) pushHistory(p Position, limit int) {
	if limit <= 0 {
		return
	}
	if s.history == nil {
		s.history = make([]Position, limit)
	}
	idx := (s.histHead + s.histCount) % limit
	s.history[idx] = p
	if s.histCount < limit {
		s.histCount++
	} else {
		s.histHead = (s.histHead + 1) % limit
	}
}

// historyTail returns up to n of the most recent positions, oldest first.
func (s *Session) historyTail(n int) []Position {
	if n <= 0 || n > s.histCount {
		n = s.histCount
	}
	if n == 0 {
		return nil
	}
	limit := len(s.history)
	out := make([]Position, 0, n)
	start := s.histCount - n
	for i := start; i < s.histCount; i++ {
		out = append(out, s.history[(s.histHead+i)%limit])
	}
	return out
}

// snapshot returns a shallow copy without the internal ring buffer.
func (s *Session) snapshot() *Session {
	cp := *s
	cp.history = nil
	cp.histHead = 0
	cp.histCount = 0
	if s.Current != nil {
		pos := *s.Current
		cp.Current = &pos
	}
	return &cp
}
