package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnknownEvent is returned by Emit for an event type outside the closed set.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrBadPayload is returned by Emit when the payload struct does not match the event type.
	ErrBadPayload = errors.New("payload does not match event type")
)

// Sender delivers notifications to connected users. Implemented by the gateway.
type Sender interface {
	SendNotificationToUser(userID string, n *Notification) bool
	BroadcastNotification(n *Notification) int
}

// RecipientDirectory resolves recipient sets the router cannot derive from the
// event payload itself.
type RecipientDirectory interface {
	AdminIDs(ctx context.Context) ([]string, error)
}

// FallbackNotifier pushes an event through an external channel (email/SMS) for
// recipients who may be offline. Failures are logged, never propagated.
type FallbackNotifier interface {
	Notify(ctx context.Context, recipient string, eventType EventType, message string) error
}

// Store persists delivered notifications, best-effort.
type Store interface {
	SaveNotification(ctx context.Context, n *Notification) error
}

// Stats tracks delivery counters. Counters reset daily.
type Stats struct {
	Sent      int64     `json:"sent"`
	Failed    int64     `json:"failed"`
	Emitted   int64     `json:"emitted"`
	LastReset time.Time `json:"last_reset"`
}

type handlerFunc func(ctx context.Context, ev Event) (*Notification, error)

// Router builds and dispatches notifications for domain events. Safe for
// concurrent use.
type Router struct {
	sender    Sender
	directory RecipientDirectory
	fallback  FallbackNotifier
	store     Store
	logger    *zap.Logger
	handlers  map[EventType]handlerFunc

	mu    sync.Mutex
	stats Stats
	nowF  func() time.Time
}

// NewRouter wires the router. directory, fallback and store may be nil; the
// corresponding behaviors (admin resolution, external channel, persistence) are
// skipped when absent.
func NewRouter(sender Sender, directory RecipientDirectory, fallback FallbackNotifier, store Store, logger *zap.Logger) *Router {
	r := &Router{
		sender:    sender,
		directory: directory,
		fallback:  fallback,
		store:     store,
		logger:    logger,
		nowF:      func() time.Time { return time.Now().UTC() },
	}
	r.stats.LastReset = r.nowF()
	r.handlers = map[EventType]handlerFunc{
		EventChildBoarded:    r.handleChildBoarded,
		EventChildDeboarded:  r.handleChildDeboarded,
		EventPositionUpdated: r.handlePositionUpdated,
		EventVehicleArriving: r.handleVehicleArriving,
		EventTripStarted:     r.handleTripStarted,
		EventTripFinished:    r.handleTripFinished,
		EventDelayDetected:   r.handleDelayDetected,
		EventEmergency:       r.handleEmergency,
		EventMaintenance:     r.handleMaintenance,
	}
	return r
}

// Emit builds the notification for a domain event and dispatches it. Returns
// the number of connections it was delivered to.
func (r *Router) Emit(ctx context.Context, ev Event) (int, error) {
	handler, ok := r.handlers[ev.Type]
	if !ok {
		return 0, ErrUnknownEvent
	}
	n, err := handler(ctx, ev)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.maybeResetLocked()
	r.stats.Emitted++
	r.mu.Unlock()

	delivered := r.Send(n)

	if r.store != nil {
		go func(n *Notification) {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.store.SaveNotification(saveCtx, n); err != nil && r.logger != nil {
				r.logger.Error("notification persist failed", zap.String("id", n.ID), zap.Error(err))
			}
		}(n)
	}
	r.invokeFallback(ctx, n)
	return delivered, nil
}

// Send dispatches an already-built notification: unicast per recipient when the
// recipient list is explicit, broadcast otherwise. Returns delivered count.
func (r *Router) Send(n *Notification) int {
	delivered := 0
	if n.Broadcast {
		delivered = r.sender.BroadcastNotification(n)
	} else {
		for _, userID := range n.Recipients {
			if r.sender.SendNotificationToUser(userID, n) {
				delivered++
			} else {
				r.countFailed()
			}
		}
	}

	r.mu.Lock()
	r.maybeResetLocked()
	r.stats.Sent += int64(delivered)
	r.mu.Unlock()
	return delivered
}

// Stats returns a copy of the delivery counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeResetLocked()
	return r.stats
}

func (r *Router) countFailed() {
	r.mu.Lock()
	r.maybeResetLocked()
	r.stats.Failed++
	r.mu.Unlock()
}

// maybeResetLocked zeroes the counters when the calendar day has rolled over.
func (r *Router) maybeResetLocked() {
	now := r.nowF()
	y1, m1, d1 := r.stats.LastReset.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		r.stats = Stats{LastReset: now}
	}
}

func (r *Router) invokeFallback(ctx context.Context, n *Notification) {
	if r.fallback == nil || n.Broadcast {
		return
	}
	for _, recipient := range n.Recipients {
		if err := r.fallback.Notify(ctx, recipient, n.Type, n.Message); err != nil && r.logger != nil {
			r.logger.Warn("fallback channel failed",
				zap.String("recipient", recipient),
				zap.String("event", string(n.Type)),
				zap.Error(err),
			)
		}
	}
}

func (r *Router) handleChildBoarded(ctx context.Context, ev Event) (*Notification, error) {
	p, ok := ev.Payload.(ChildEvent)
	if !ok {
		return nil, ErrBadPayload
	}
	msg := fmt.Sprintf("%s embarcou no veículo escolar", p.ChildName)
	return NewNotification(ev.Type, PriorityHigh, "Embarque confirmado", msg, p.GuardianIDs, map[string]interface{}{
		"child_id":   p.ChildID,
		"child_name": p.ChildName,
		"vehicle_id": p.VehicleID,
		"message":    msg,
	}), nil
}

func (r *Router) handleChildDeboarded(ctx context.Context, ev Event) (*Notification, error) {
	p, ok := ev.Payload.(ChildEvent)
	if !ok {
		return nil, ErrBadPayload
	}
	msg := fmt.Sprintf("%s desembarcou do veículo escolar", p.ChildName)
	return NewNotification(ev.Type, PriorityHigh, "Desembarque confirmado", msg, p.GuardianIDs, map[string]interface{}{
		"child_id":   p.ChildID,
		"child_name": p.ChildName,
		"vehicle_id": p.VehicleID,
		"message":    msg,
	}), nil
}

func (r *Router) handlePositionUpdated(ctx context.Context, ev Event) (*Notification, error) {
	p, ok := ev.Payload.(PositionEvent)
	if !ok {
		return nil, ErrBadPayload
	}
	msg := "Posição do veículo atualizada"
	return NewNotification(ev.Type, PriorityLow, "Posição atualizada", msg, p.GuardianIDs, map[string]interface{}{
		"vehicle_id": p.VehicleID,
		"lat":        p.Lat,
		"lon":        p.Lon,
		"speed":      p.Speed,
		"message":    msg,
	}), nil
}

func (r *Router) handleVehicleArriving(ctx context.Context, ev Event) (*Notification, error) {
	p, ok := ev.Payload.(PositionEvent)
	if !ok {
		return nil, ErrBadPayload
	}
	label := p.Label
	if label == "" {
		label = "ponto de parada"
	}
	msg := fmt.Sprintf("O veículo está chegando: %s", label)
	return NewNotification(ev.Type, PriorityHigh, "Veículo chegando", msg, p.GuardianIDs, map[string]interface{}{
		"vehicle_id": p.VehicleID,
		"label":      label,
		"lat":        p.Lat,
		"lon":        p.Lon,
		"message":    msg,
	}), nil
}

func (r *Router) handleTripStarted(ctx context.Context, ev Event) (*Notification, error) {
	p, ok := ev.Payload.(TripEvent)
	if !ok {
		return nil, ErrBadPayload
	}
	msg := "A viagem foi iniciada"
	return NewNotification(ev.Type, PriorityMedium, "Viagem iniciada", msg, p.GuardianIDs, map[string]interface{}{
		"trip_id":     p.TripID,
		"vehicle_id":  p.VehicleID,
		"route_id":    p.RouteID,
		"driver_name": p.DriverName,
		"message":     msg,
	}), nil
}

func (r *Router) handleTripFinished(ctx context.Context, ev Event) (*Notification, error) {
	p, ok := ev.Payload.(TripEvent)
	if !ok {
		return nil, ErrBadPayload
	}
	msg := "A viagem foi finalizada"
	return NewNotification(ev.Type, PriorityMedium, "Viagem finalizada", msg, p.GuardianIDs, map[string]interface{}{
		"trip_id":    p.TripID,
		"vehicle_id": p.VehicleID,
		"route_id":   p.RouteID,
		"message":    msg,
	}), nil
}

func (r *Router) handleDelayDetected(ctx context.Context, ev Event) (*Notification, error) {
	p, ok := ev.Payload.(DelayEvent)
	if !ok {
		return nil, ErrBadPayload
	}
	msg := fmt.Sprintf("Atraso de %d minutos detectado", p.DelayMinutes)
	if p.Reason != "" {
		msg += ": " + p.Reason
	}
	return NewNotification(ev.Type, PriorityHigh, "Atraso detectado", msg, p.GuardianIDs, map[string]interface{}{
		"vehicle_id":    p.VehicleID,
		"delay_minutes": p.DelayMinutes,
		"reason":        p.Reason,
		"message":       msg,
	}), nil
}

// handleEmergency routes to every admin resolved through the directory.
func (r *Router) handleEmergency(ctx context.Context, ev Event) (*Notification, error) {
	p, ok := ev.Payload.(EmergencyEvent)
	if !ok {
		return nil, ErrBadPayload
	}
	var admins []string
	if r.directory != nil {
		ids, err := r.directory.AdminIDs(ctx)
		if err != nil {
			if r.logger != nil {
				r.logger.Error("admin resolution failed, broadcasting emergency", zap.Error(err))
			}
		} else {
			admins = ids
		}
	}
	msg := "EMERGÊNCIA: " + p.Message
	return NewNotification(ev.Type, PriorityCritical, "Emergência", msg, admins, map[string]interface{}{
		"vehicle_id": p.VehicleID,
		"lat":        p.Lat,
		"lon":        p.Lon,
		"message":    msg,
	}), nil
}

// handleMaintenance broadcasts to every connected user.
func (r *Router) handleMaintenance(ctx context.Context, ev Event) (*Notification, error) {
	p, ok := ev.Payload.(MaintenanceEvent)
	if !ok {
		return nil, ErrBadPayload
	}
	return NewNotification(ev.Type, PriorityLow, "Manutenção programada", p.Message, nil, map[string]interface{}{
		"message": p.Message,
	}), nil
}
