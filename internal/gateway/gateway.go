// Package gateway is the WebSocket transport: it upgrades connections after
// the credential validator and security governor admit them, pumps frames,
// dispatches inbound commands and delivers outbound notifications through the
// connection registry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/auth"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/notify"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/registry"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/security"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/telemetry"
)

// Options tunes the gateway. Zero values fall back to defaults.
type Options struct {
	// HeartbeatInterval is the server ping cadence. A connection that misses
	// a pong for one full interval past the deadline is terminated.
	HeartbeatInterval time.Duration
	// MaxPayloadBytes caps inbound frame size at the socket read layer.
	MaxPayloadBytes int
}

func (o *Options) applyDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = 10240
	}
}

// Gateway owns the /ws endpoint. It implements notify.Sender so the
// notification router can deliver through it.
type Gateway struct {
	opts      Options
	registry  *registry.Registry
	governor  *security.Governor
	validator *auth.Validator
	emitter   telemetry.EventEmitter
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	router *notify.Router
}

// New builds a gateway. emitter may be nil to disable telemetry. The
// notification router is attached afterwards with SetRouter since it needs
// the gateway as its sender.
func New(opts Options, reg *registry.Registry, gov *security.Governor, val *auth.Validator, emitter telemetry.EventEmitter, logger *zap.Logger) *Gateway {
	opts.applyDefaults()
	return &Gateway{
		opts:      opts,
		registry:  reg,
		governor:  gov,
		validator: val,
		emitter:   emitter,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the governor before Upgrade runs.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetRouter attaches the notification router used for the send_notification
// command. Must be called before the gateway serves traffic.
func (g *Gateway) SetRouter(r *notify.Router) { g.router = r }

// HandleWS admits, upgrades and serves one WebSocket connection. The request
// must carry a bearer token via query parameter, Authorization header or
// cookie.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	origin := r.Header.Get("Origin")

	claims, err := g.validator.Authenticate(r)
	if err != nil {
		g.denyUpgrade(w, r, websocket.ClosePolicyViolation, "authentication failed")
		g.emitDenial(ip, "", err)
		return
	}
	if err := g.governor.AdmitConnection(ip, origin); err != nil {
		g.denyUpgrade(w, r, closeCodeFor(err), publicReason(err))
		g.emitDenial(ip, claims.UserID(), err)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.governor.ReleaseConnection(ip)
		g.logger.Warn("websocket upgrade failed", zap.String("ip", ip), zap.Error(err))
		return
	}

	connID := uuid.NewString()
	c := newClient(connID, claims.UserID(), conn)
	g.registry.Register(claims.UserID(), connID, ip, registry.Metadata{
		Role:        claims.Role,
		DisplayName: claims.Name,
	}, c)
	// Connections start subscribed to broadcasts; unsubscribe_notifications
	// opts out.
	g.registry.AddToGroup(connID, notificationsGroup)

	g.logger.Info("connection established",
		zap.String("connection_id", connID),
		zap.String("user_id", claims.UserID()),
		zap.String("role", claims.Role),
		zap.String("ip", ip),
	)
	telemetry.EmitAsync(g.emitter, g.logger, &telemetry.Event{
		Kind:     telemetry.KindConnectionOpened,
		UserID:   claims.UserID(),
		RemoteIP: ip,
	})

	c.Send(marshalFrame(TypeConnectionEstablished, EstablishedData{
		ConnectionID: connID,
		UserID:       claims.UserID(),
		Role:         claims.Role,
		ServerTime:   time.Now().UTC(),
	}))

	go c.writePump(g.opts.HeartbeatInterval)
	g.readLoop(c, claims, ip)
}

// readLoop owns the read side of the connection and runs until it closes.
func (g *Gateway) readLoop(c *client, claims *auth.UserClaims, ip string) {
	defer func() {
		g.registry.Unregister(c.userID, c.id)
		g.governor.ReleaseConnection(ip)
		c.Close()
		g.logger.Info("connection closed",
			zap.String("connection_id", c.id),
			zap.String("user_id", c.userID),
		)
		telemetry.EmitAsync(g.emitter, g.logger, &telemetry.Event{
			Kind:     telemetry.KindConnectionClosed,
			UserID:   c.userID,
			RemoteIP: ip,
		})
	}()

	pongWait := g.opts.HeartbeatInterval * 2
	c.conn.SetReadLimit(int64(g.opts.MaxPayloadBytes) + 512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		g.registry.Touch(c.id)
		g.registry.SetAlive(c.id, true)
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		g.registry.Touch(c.id)

		if err := g.governor.AdmitMessage(ip, c.userID, payload); err != nil {
			telemetry.EmitAsync(g.emitter, g.logger, &telemetry.Event{
				Kind:     telemetry.KindMessageDenied,
				UserID:   c.userID,
				RemoteIP: ip,
				Reason:   publicReason(err),
			})
			if errors.Is(err, security.ErrBlacklisted) {
				c.closeWithCode(websocket.ClosePolicyViolation, publicReason(err))
				return
			}
			c.Send(marshalFrame(TypeError, ErrorData{Message: publicReason(err)}))
			continue
		}

		g.dispatch(c, claims, payload)
	}
}

// dispatch routes one admitted inbound frame.
func (g *Gateway) dispatch(c *client, claims *auth.UserClaims, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Type == "" {
		c.Send(marshalFrame(TypeError, ErrorData{Message: "malformed message"}))
		return
	}

	switch env.Type {
	case TypePing:
		c.Send(marshalFrame(TypePong, PongData{ServerTime: time.Now().UTC()}))

	case TypeSubscribeNotifications:
		g.registry.AddToGroup(c.id, notificationsGroup)

	case TypeUnsubscribeNotifications:
		g.registry.RemoveFromGroup(c.id, notificationsGroup)

	case TypeJoinGroup:
		var d GroupData
		if err := json.Unmarshal(env.Data, &d); err != nil || d.GroupID == "" {
			c.Send(marshalFrame(TypeError, ErrorData{Message: "malformed message"}))
			return
		}
		g.registry.AddToGroup(c.id, d.GroupID)
		c.Send(marshalFrame(TypeGroupJoined, AckData{GroupID: d.GroupID}))

	case TypeLeaveGroup:
		var d GroupData
		if err := json.Unmarshal(env.Data, &d); err != nil || d.GroupID == "" {
			c.Send(marshalFrame(TypeError, ErrorData{Message: "malformed message"}))
			return
		}
		g.registry.RemoveFromGroup(c.id, d.GroupID)
		c.Send(marshalFrame(TypeGroupLeft, AckData{GroupID: d.GroupID}))

	case TypeSendNotification:
		g.handleSendNotification(c, claims, env.Data)

	default:
		c.Send(marshalFrame(TypeError, ErrorData{Message: "unknown message type"}))
	}
}

func (g *Gateway) handleSendNotification(c *client, claims *auth.UserClaims, data json.RawMessage) {
	if !g.validator.Authorize(claims, auth.ActionSendNotification, auth.Target{}) {
		c.Send(marshalFrame(TypeError, ErrorData{Message: "not authorized"}))
		return
	}
	var d SendNotificationData
	if err := json.Unmarshal(data, &d); err != nil || d.Title == "" || d.Message == "" {
		c.Send(marshalFrame(TypeError, ErrorData{Message: "malformed message"}))
		return
	}
	if g.router == nil {
		c.Send(marshalFrame(TypeError, ErrorData{Message: "notifications unavailable"}))
		return
	}

	n := notify.NewNotification(notify.EventType(d.Type), parsePriority(d.Priority), d.Title, d.Message, d.Recipients, d.Data)
	delivered := g.router.Send(n)

	c.Send(marshalFrame(TypeNotificationSent, AckData{NotificationID: n.ID, Delivered: delivered}))
	telemetry.EmitAsync(g.emitter, g.logger, &telemetry.Event{
		Kind:   telemetry.KindNotificationSent,
		UserID: c.userID,
		Details: map[string]interface{}{
			"notification_id": n.ID,
			"delivered":       delivered,
		},
	})
}

// SendNotificationToUser delivers to every live connection of the user.
// Returns false when the user has no connection that accepted the payload.
func (g *Gateway) SendNotificationToUser(userID string, n *notify.Notification) bool {
	payload, err := json.Marshal(n)
	if err != nil {
		return false
	}
	delivered := false
	for _, h := range g.registry.ConnectionsOf(userID) {
		if h.Send(payload) {
			delivered = true
		}
	}
	return delivered
}

// BroadcastNotification delivers to every subscribed connection and returns
// the number that accepted it.
func (g *Gateway) BroadcastNotification(n *notify.Notification) int {
	payload, err := json.Marshal(n)
	if err != nil {
		return 0
	}
	count := 0
	for _, h := range g.registry.MembersOf(notificationsGroup) {
		if h.Send(payload) {
			count++
		}
	}
	return count
}

// SendToGroup delivers a raw frame to every member of the group.
func (g *Gateway) SendToGroup(groupID string, payload []byte) int {
	count := 0
	for _, h := range g.registry.MembersOf(groupID) {
		if h.Send(payload) {
			count++
		}
	}
	return count
}

// Run drives the periodic sweeps: stale connections, expired rate windows and
// blacklist entries, auth throttle state. Blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := g.registry.SweepInactive(g.opts.HeartbeatInterval * 3)
			for _, conn := range removed {
				if conn.Handle != nil {
					conn.Handle.Close()
				}
				g.logger.Info("connection swept as inactive",
					zap.String("connection_id", conn.ID),
					zap.String("user_id", conn.UserID),
				)
			}
			g.governor.Sweep()
			g.validator.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// denyUpgrade completes the handshake only to deliver a close frame with the
// policy code, then drops the connection.
func (g *Gateway) denyUpgrade(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

func (g *Gateway) emitDenial(ip, userID string, err error) {
	g.logger.Warn("connection denied",
		zap.String("ip", ip),
		zap.String("user_id", userID),
		zap.String("reason", publicReason(err)),
	)
	telemetry.EmitAsync(g.emitter, g.logger, &telemetry.Event{
		Kind:     telemetry.KindAdmissionDenied,
		UserID:   userID,
		RemoteIP: ip,
		Reason:   publicReason(err),
	})
}

// closeCodeFor maps admission errors to WebSocket close codes: policy
// violations get 1008, anything unexpected 1011.
func closeCodeFor(err error) int {
	switch {
	case errors.Is(err, security.ErrBlacklisted),
		errors.Is(err, security.ErrOriginNotAllowed),
		errors.Is(err, security.ErrTooManyConnections),
		errors.Is(err, security.ErrRateLimited):
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

// publicReason returns the human-readable reason string for an admission or
// validation error without leaking internal detail.
func publicReason(err error) string {
	switch {
	case errors.Is(err, security.ErrBlacklisted):
		return "access denied"
	case errors.Is(err, security.ErrOriginNotAllowed):
		return "origin not allowed"
	case errors.Is(err, security.ErrTooManyConnections):
		return "too many connections"
	case errors.Is(err, security.ErrRateLimited):
		return "rate limit exceeded"
	case errors.Is(err, security.ErrPayloadTooLarge):
		return "payload too large"
	case errors.Is(err, security.ErrSpamDetected):
		return "duplicate messages detected"
	case errors.Is(err, auth.ErrMissingCredential),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenRevoked):
		return "authentication failed"
	case errors.Is(err, auth.ErrThrottled):
		return "rate limit exceeded"
	default:
		return "internal error"
	}
}

func parsePriority(s string) notify.Priority {
	switch notify.Priority(s) {
	case notify.PriorityCritical, notify.PriorityHigh, notify.PriorityMedium, notify.PriorityLow:
		return notify.Priority(s)
	default:
		return notify.PriorityMedium
	}
}

// remoteIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer address.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
