// Package httpapi exposes the HTTP surface around the gateway: the /ws
// upgrade endpoint, health and stats snapshots, and small read-only lookups
// over live and stored state.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/auth"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/cache"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/gateway"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/notify"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/registry"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/security"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/storage"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/tracking"
)

// NotificationLister reads stored notifications for a user.
type NotificationLister interface {
	ListNotificationsForUser(ctx context.Context, userID string, limit int) ([]*notify.Notification, error)
}

// LiveReader reads mirrored live vehicle state.
type LiveReader interface {
	GetPosition(ctx context.Context, vehicleID string) (*tracking.Position, error)
	GetTrip(ctx context.Context, vehicleID string) (*tracking.Session, error)
}

// Server wires the HTTP routes. All fields except the gateway may be nil;
// the matching endpoints then answer 503.
type Server struct {
	gw        *gateway.Gateway
	reg       *registry.Registry
	gov       *security.Governor
	val       *auth.Validator
	router    *notify.Router
	engine    *tracking.Engine
	liveCache *cache.Cache
	live      LiveReader
	store     NotificationLister
	logger    *zap.Logger
	started   time.Time
}

// New builds the HTTP server wiring.
func New(gw *gateway.Gateway, reg *registry.Registry, gov *security.Governor, val *auth.Validator, router *notify.Router, engine *tracking.Engine, liveCache *cache.Cache, live LiveReader, store NotificationLister, logger *zap.Logger) *Server {
	return &Server{
		gw:        gw,
		reg:       reg,
		gov:       gov,
		val:       val,
		router:    router,
		engine:    engine,
		liveCache: liveCache,
		live:      live,
		store:     store,
		logger:    logger,
		started:   time.Now().UTC(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /ws", s.gw.HandleWS)
	mux.HandleFunc("GET /api/vehicles/{id}/position", s.handleVehiclePosition)
	mux.HandleFunc("GET /api/vehicles/{id}/trip", s.handleVehicleTrip)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	mux.HandleFunc("POST /api/vehicles/{id}/tracking/start", s.handleTrackingStart)
	mux.HandleFunc("POST /api/vehicles/{id}/tracking/position", s.handleTrackingPosition)
	mux.HandleFunc("POST /api/vehicles/{id}/tracking/stop", s.handleTrackingStop)
	return mux
}

// trackingStartRequest is the body of the tracking start endpoint.
type trackingStartRequest struct {
	Driver    tracking.DriverInfo `json:"driver"`
	Route     tracking.RouteInfo  `json:"route"`
	Geofences []tracking.Geofence `json:"geofences,omitempty"`
}

func (s *Server) handleTrackingStart(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authorizeDriver(w, r)
	if !ok {
		return
	}
	var req trackingStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	vehicleID := r.PathValue("id")
	if req.Driver.ID == "" {
		req.Driver = tracking.DriverInfo{ID: claims.UserID(), Name: claims.Name}
	}
	sess, err := s.engine.StartTracking(r.Context(), vehicleID, req.Driver, req.Route)
	if err != nil {
		if errors.Is(err, tracking.ErrSessionExists) {
			writeError(w, http.StatusConflict, "tracking already active")
			return
		}
		s.logger.Error("tracking start failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	for _, g := range req.Geofences {
		if err := s.engine.AddGeofence(vehicleID, g); err != nil {
			writeError(w, http.StatusBadRequest, "invalid geofence coordinates")
			return
		}
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleTrackingPosition(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorizeDriver(w, r); !ok {
		return
	}
	var p tracking.Position
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	sess, err := s.engine.UpdatePosition(r.Context(), r.PathValue("id"), p)
	if err != nil {
		var invalid *tracking.InvalidCoordinateError
		switch {
		case errors.As(err, &invalid):
			writeError(w, http.StatusBadRequest, "invalid coordinates")
		case errors.Is(err, tracking.ErrNoSession):
			writeError(w, http.StatusNotFound, "no active tracking session")
		case errors.Is(err, tracking.ErrSessionStopped):
			writeError(w, http.StatusConflict, "tracking session is stopped")
		default:
			s.logger.Error("position update failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTrackingStop(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorizeDriver(w, r); !ok {
		return
	}
	sess, err := s.engine.StopTracking(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, tracking.ErrNoSession) || errors.Is(err, tracking.ErrSessionStopped) {
			writeError(w, http.StatusNotFound, "no active tracking session")
			return
		}
		s.logger.Error("tracking stop failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// authorizeDriver admits the vehicle's own driver or an admin.
func (s *Server) authorizeDriver(w http.ResponseWriter, r *http.Request) (*auth.UserClaims, bool) {
	claims, err := s.val.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return nil, false
	}
	if claims.Role == auth.RoleAdmin {
		return claims, true
	}
	if claims.Role == auth.RoleDriver && claims.VehicleID == r.PathValue("id") {
		return claims, true
	}
	writeError(w, http.StatusForbidden, "not authorized")
	return nil, false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

// handleStats returns a point-in-time snapshot of every component's counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}
	if s.reg != nil {
		out["registry"] = s.reg.Stats()
	}
	if s.gov != nil {
		out["security"] = s.gov.Stats()
	}
	if s.val != nil {
		out["auth"] = s.val.Stats()
	}
	if s.router != nil {
		out["notifications"] = s.router.Stats()
	}
	if s.engine != nil {
		out["tracking"] = s.engine.Stats()
	}
	if s.liveCache != nil {
		out["cache"] = s.liveCache.Stats()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVehiclePosition(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorizeVehicle(w, r); !ok {
		return
	}
	if s.live == nil {
		writeError(w, http.StatusServiceUnavailable, "live state unavailable")
		return
	}
	pos, err := s.live.GetPosition(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrLiveMiss) {
			writeError(w, http.StatusNotFound, "no recent position")
			return
		}
		s.logger.Error("live position read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleVehicleTrip(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorizeVehicle(w, r); !ok {
		return
	}
	vehicleID := r.PathValue("id")
	if s.engine != nil {
		if sess, ok := s.engine.GetSession(vehicleID); ok {
			writeJSON(w, http.StatusOK, sess)
			return
		}
	}
	if s.live != nil {
		sess, err := s.live.GetTrip(r.Context(), vehicleID)
		if err == nil {
			writeJSON(w, http.StatusOK, sess)
			return
		}
		if !errors.Is(err, storage.ErrLiveMiss) {
			s.logger.Error("live trip read failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	writeError(w, http.StatusNotFound, "no active trip")
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	claims, err := s.val.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	list, err := s.store.ListNotificationsForUser(r.Context(), claims.UserID(), limit)
	if err != nil {
		s.logger.Error("notification list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*notify.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// authorizeVehicle authenticates the request and checks the caller may view
// the vehicle's location. Guardians pass the linked child via ?child_id=.
func (s *Server) authorizeVehicle(w http.ResponseWriter, r *http.Request) (*auth.UserClaims, bool) {
	claims, err := s.val.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return nil, false
	}
	target := auth.Target{
		VehicleID: r.PathValue("id"),
		ChildID:   r.URL.Query().Get("child_id"),
	}
	if !s.val.Authorize(claims, auth.ActionViewLocation, target) {
		writeError(w, http.StatusForbidden, "not authorized")
		return nil, false
	}
	return claims, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
