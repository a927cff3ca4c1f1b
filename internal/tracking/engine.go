package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/notify"
)

// etaCallTimeout bounds a single routing-service call so a slow upstream
// cannot stall the update path.
const etaCallTimeout = 10 * time.Second

var (
	// ErrNoSession is returned when no tracking session exists for the vehicle.
	ErrNoSession = errors.New("tracking: no session for vehicle")
	// ErrSessionExists is returned by StartTracking when the vehicle already
	// has a session that has not been stopped.
	ErrSessionExists = errors.New("tracking: session already active for vehicle")
	// ErrSessionStopped is returned when operating on a terminal session.
	ErrSessionStopped = errors.New("tracking: session is stopped")
)

// RouteEstimate is the result of an external routing call.
type RouteEstimate struct {
	Duration       time.Duration
	DistanceMeters float64
}

// RouteEstimator computes travel time between two coordinates through an
// external routing service.
type RouteEstimator interface {
	Route(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (RouteEstimate, error)
}

// Alerter dispatches domain events. Satisfied by notify.Router.
type Alerter interface {
	Emit(ctx context.Context, ev notify.Event) (int, error)
}

// LiveStore receives the latest position and session state keyed per vehicle.
// Satisfied by cache.Cache.
type LiveStore interface {
	Put(key string, value interface{})
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	HistoryLimit int
	ETADelta     time.Duration
	MaxSpeedKmh  float64
	MinSpeedKmh  float64
}

func (o *Options) applyDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 1000
	}
	if o.ETADelta <= 0 {
		o.ETADelta = 5 * time.Minute
	}
	if o.MaxSpeedKmh <= 0 {
		o.MaxSpeedKmh = 80
	}
	if o.MinSpeedKmh <= 0 {
		o.MinSpeedKmh = 5
	}
}

// Stats is a snapshot of engine counters.
type Stats struct {
	ActiveSessions    int   `json:"active_sessions"`
	PositionsIngested int64 `json:"positions_ingested"`
	GeofenceAlerts    int64 `json:"geofence_alerts"`
	SpeedAlerts       int64 `json:"speed_alerts"`
	ETACalls          int64 `json:"eta_calls"`
	ETAFailures       int64 `json:"eta_failures"`
}

// Engine holds per-vehicle tracking sessions and their geofences.
type Engine struct {
	opts      Options
	estimator RouteEstimator
	alerter   Alerter
	live      LiveStore
	logger    *zap.Logger

	mu        sync.RWMutex
	sessions  map[string]*Session
	geofences map[string][]*Geofence

	positions int64
	geoAlerts int64
	spdAlerts int64
	etaCalls  int64
	etaFails  int64

	nowF func() time.Time
}

// NewEngine builds a tracking engine. estimator, alerter and live may be nil
// to disable ETA recomputation, alerting and live-state caching respectively.
func NewEngine(opts Options, estimator RouteEstimator, alerter Alerter, live LiveStore, logger *zap.Logger) *Engine {
	opts.applyDefaults()
	return &Engine{
		opts:      opts,
		estimator: estimator,
		alerter:   alerter,
		live:      live,
		logger:    logger,
		sessions:  make(map[string]*Session),
		geofences: make(map[string][]*Geofence),
		nowF:      func() time.Time { return time.Now().UTC() },
	}
}

// StartTracking opens a new session for the vehicle. A stopped session is
// replaced; an active one is an error.
func (e *Engine) StartTracking(ctx context.Context, vehicleID string, driver DriverInfo, route RouteInfo) (*Session, error) {
	now := e.nowF()

	e.mu.Lock()
	if existing, ok := e.sessions[vehicleID]; ok && existing.Status != StatusStopped {
		e.mu.Unlock()
		return nil, ErrSessionExists
	}
	s := &Session{
		VehicleID:   vehicleID,
		Driver:      driver,
		Route:       route,
		Status:      StatusStarted,
		SpeedStatus: SpeedStopped,
		StartedAt:   now,
		LastUpdate:  now,
	}
	e.sessions[vehicleID] = s
	snap := s.snapshot()
	e.mu.Unlock()

	e.cacheSession(snap)
	e.emit(ctx, notify.Event{
		Type: notify.EventTripStarted,
		Payload: notify.TripEvent{
			TripID:      vehicleID + ":" + now.Format(time.RFC3339),
			VehicleID:   vehicleID,
			RouteID:     route.ID,
			DriverName:  driver.Name,
			GuardianIDs: route.GuardianIDs,
		},
	})
	return snap, nil
}

// UpdatePosition ingests a GPS sample: validates it, advances the session,
// evaluates geofences and speed, and recomputes the ETA when it has drifted.
func (e *Engine) UpdatePosition(ctx context.Context, vehicleID string, p Position) (*Session, error) {
	if !ValidCoordinate(p.Lat, p.Lon) {
		return nil, &InvalidCoordinateError{Lat: p.Lat, Lon: p.Lon}
	}
	now := e.nowF()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}

	var events []notify.Event

	e.mu.Lock()
	s, ok := e.sessions[vehicleID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNoSession
	}
	if s.Status == StatusStopped {
		e.mu.Unlock()
		return nil, ErrSessionStopped
	}
	if s.Status == StatusStarted {
		s.Status = StatusActive
	}
	if p.Heading == 0 && s.Current != nil {
		p.Heading = Bearing(s.Current.Lat, s.Current.Lon, p.Lat, p.Lon)
	}
	s.Current = &p
	s.LastUpdate = now
	s.pushHistory(p, e.opts.HistoryLimit)
	e.positions++

	prevStatus := s.SpeedStatus
	s.SpeedStatus = e.classifySpeed(p.SpeedKmh)
	if s.SpeedStatus == SpeedSpeeding && prevStatus != SpeedSpeeding {
		e.spdAlerts++
		events = append(events, notify.Event{
			Type: notify.EventEmergency,
			Payload: notify.EmergencyEvent{
				VehicleID: vehicleID,
				Lat:       p.Lat,
				Lon:       p.Lon,
				Message:   fmt.Sprintf("veículo %s acima do limite de velocidade: %.0f km/h", vehicleID, p.SpeedKmh),
			},
		})
	}

	for _, g := range e.geofences[vehicleID] {
		if g.Triggered || !g.contains(p.Lat, p.Lon) {
			continue
		}
		g.Triggered = true
		e.geoAlerts++
		events = append(events, notify.Event{
			Type: notify.EventVehicleArriving,
			Payload: notify.PositionEvent{
				VehicleID:   vehicleID,
				Lat:         p.Lat,
				Lon:         p.Lon,
				Label:       g.Label,
				GuardianIDs: s.Route.GuardianIDs,
			},
		})
	}

	events = append(events, notify.Event{
		Type: notify.EventPositionUpdated,
		Payload: notify.PositionEvent{
			VehicleID:   vehicleID,
			Lat:         p.Lat,
			Lon:         p.Lon,
			Speed:       p.SpeedKmh,
			GuardianIDs: s.Route.GuardianIDs,
		},
	})

	needETA := e.etaDrifted(s, p)
	route := s.Route
	snap := s.snapshot()
	e.mu.Unlock()

	e.cacheSession(snap)
	e.cachePosition(vehicleID, p)
	for _, ev := range events {
		e.emit(ctx, ev)
	}

	if needETA {
		e.recomputeETA(ctx, vehicleID, p, route)
		e.mu.RLock()
		if s, ok := e.sessions[vehicleID]; ok {
			snap = s.snapshot()
		}
		e.mu.RUnlock()
	}
	return snap, nil
}

// StopTracking marks the session terminal and releases its geofences.
func (e *Engine) StopTracking(ctx context.Context, vehicleID string) (*Session, error) {
	e.mu.Lock()
	s, ok := e.sessions[vehicleID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNoSession
	}
	if s.Status == StatusStopped {
		e.mu.Unlock()
		return nil, ErrSessionStopped
	}
	s.Status = StatusStopped
	s.LastUpdate = e.nowF()
	delete(e.geofences, vehicleID)
	snap := s.snapshot()
	e.mu.Unlock()

	e.cacheSession(snap)
	e.emit(ctx, notify.Event{
		Type: notify.EventTripFinished,
		Payload: notify.TripEvent{
			VehicleID:   vehicleID,
			RouteID:     snap.Route.ID,
			DriverName:  snap.Driver.Name,
			GuardianIDs: snap.Route.GuardianIDs,
		},
	})
	return snap, nil
}

// AddGeofence registers a fence for the vehicle. Fences are evaluated on
// every position update until they trigger or the session stops.
func (e *Engine) AddGeofence(vehicleID string, g Geofence) error {
	if !ValidCoordinate(g.CenterLat, g.CenterLon) {
		return &InvalidCoordinateError{Lat: g.CenterLat, Lon: g.CenterLon}
	}
	g.VehicleID = vehicleID
	g.Triggered = false
	e.mu.Lock()
	e.geofences[vehicleID] = append(e.geofences[vehicleID], &g)
	e.mu.Unlock()
	return nil
}

// RemoveGeofence drops the fence with the given id. Returns false when no
// such fence exists for the vehicle.
func (e *Engine) RemoveGeofence(vehicleID, geofenceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	fences := e.geofences[vehicleID]
	for i, g := range fences {
		if g.ID == geofenceID {
			e.geofences[vehicleID] = append(fences[:i], fences[i+1:]...)
			if len(e.geofences[vehicleID]) == 0 {
				delete(e.geofences, vehicleID)
			}
			return true
		}
	}
	return false
}

// GetSession returns a copy of the vehicle's session.
func (e *Engine) GetSession(vehicleID string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[vehicleID]
	if !ok {
		return nil, false
	}
	return s.snapshot(), true
}

// GetHistory returns up to limit of the most recent positions, oldest first.
// limit <= 0 returns the full retained history.
func (e *Engine) GetHistory(vehicleID string, limit int) ([]Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[vehicleID]
	if !ok {
		return nil, ErrNoSession
	}
	return s.historyTail(limit), nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	active := 0
	for _, s := range e.sessions {
		if s.Status != StatusStopped {
			active++
		}
	}
	return Stats{
		ActiveSessions:    active,
		PositionsIngested: e.positions,
		GeofenceAlerts:    e.geoAlerts,
		SpeedAlerts:       e.spdAlerts,
		ETACalls:          e.etaCalls,
		ETAFailures:       e.etaFails,
	}
}

func (e *Engine) classifySpeed(kmh float64) SpeedStatus {
	switch {
	case kmh > e.opts.MaxSpeedKmh:
		return SpeedSpeeding
	case kmh < e.opts.MinSpeedKmh:
		return SpeedStopped
	default:
		return SpeedMoving
	}
}

// etaDrifted decides whether the routing service should be consulted. A
// straight-line estimate from the current position stands in for the real
// value; the external call only happens when that estimate has moved more
// than ETADelta away from the stored ETA. Caller holds the lock.
func (e *Engine) etaDrifted(s *Session, p Position) bool {
	if e.estimator == nil || !s.Route.HasDestination {
		return false
	}
	if s.ETAUpdated.IsZero() {
		return true
	}
	if p.SpeedKmh <= 0 {
		return false
	}
	dist := Haversine(p.Lat, p.Lon, s.Route.DestinationLat, s.Route.DestinationLon)
	straight := time.Duration(dist / (p.SpeedKmh / 3.6) * float64(time.Second))
	drift := straight - s.ETA
	if drift < 0 {
		drift = -drift
	}
	return drift > e.opts.ETADelta
}

// recomputeETA calls the routing service outside the engine lock. On failure
// the previous ETA stays in place.
func (e *Engine) recomputeETA(ctx context.Context, vehicleID string, p Position, route RouteInfo) {
	e.mu.Lock()
	e.etaCalls++
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, etaCallTimeout)
	defer cancel()

	est, err := e.estimator.Route(ctx, p.Lat, p.Lon, route.DestinationLat, route.DestinationLon)
	if err != nil {
		e.mu.Lock()
		e.etaFails++
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Warn("eta recompute failed, keeping previous value",
				zap.String("vehicle_id", vehicleID),
				zap.Error(err),
			)
		}
		return
	}

	e.mu.Lock()
	if s, ok := e.sessions[vehicleID]; ok && s.Status != StatusStopped {
		s.ETA = est.Duration
		s.ETAUpdated = e.nowF()
	}
	e.mu.Unlock()
}

func (e *Engine) emit(ctx context.Context, ev notify.Event) {
	if e.alerter == nil {
		return
	}
	if _, err := e.alerter.Emit(ctx, ev); err != nil && e.logger != nil {
		e.logger.Warn("tracking alert dispatch failed",
			zap.String("event", string(ev.Type)),
			zap.Error(err),
		)
	}
}

func (e *Engine) cacheSession(s *Session) {
	if e.live != nil {
		e.live.Put("trip:"+s.VehicleID, s)
	}
}

func (e *Engine) cachePosition(vehicleID string, p Position) {
	if e.live != nil {
		e.live.Put("position:"+vehicleID, p)
	}
}
