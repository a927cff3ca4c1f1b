package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMissingCredential is returned when no bearer token is present on a request.
	ErrMissingCredential = errors.New("missing credential")
	// ErrTokenRevoked is returned when a presented token has been revoked.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrThrottled is returned when a user exceeds the auth-layer request limit.
	ErrThrottled = errors.New("auth rate limit exceeded")
)

const bearerPrefix = "bearer "

// Action names gated by Authorize.
const (
	ActionSendNotification = "send_notification"
	ActionViewLocation     = "view_location"
)

// Target is the context an action applies to.
type Target struct {
	ChildID   string
	VehicleID string
}

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	// ExpiryWarnBuffer logs a warning when a valid token is this close to expiry.
	ExpiryWarnBuffer time.Duration
	// UserRateLimit caps authenticated requests per user per window; 0 disables.
	UserRateLimit int
	// RateWindow is the throttle window duration (default 60s).
	RateWindow time.Duration
}

type throttleEntry struct {
	count       int
	windowStart time.Time
}

// Validator authenticates bearer credentials, authorizes role-gated actions and
// tracks token revocation. Safe for concurrent use.
type Validator struct {
	tokens *TokenProvider
	opts   ValidatorOptions
	logger *zap.Logger

	mu       sync.Mutex
	revoked  map[string]time.Time // token hash -> token expiry
	throttle map[string]*throttleEntry

	nowF func() time.Time
}

// NewValidator returns a Validator over the given token provider.
func NewValidator(tokens *TokenProvider, opts ValidatorOptions, logger *zap.Logger) *Validator {
	if opts.RateWindow <= 0 {
		opts.RateWindow = 60 * time.Second
	}
	return &Validator{
		tokens:   tokens,
		opts:     opts,
		logger:   logger,
		revoked:  make(map[string]time.Time),
		throttle: make(map[string]*throttleEntry),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// ExtractBearer returns the bearer credential from a request, checking the
// "token" query parameter, the Authorization header, then the "token" cookie,
// in that priority order. Returns "" when none is present.
func ExtractBearer(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		if tok := strings.TrimSpace(v[len(bearerPrefix):]); tok != "" {
			return tok
		}
	}
	if c, err := r.Cookie("token"); err == nil {
		if tok := strings.TrimSpace(c.Value); tok != "" {
			return tok
		}
	}
	return ""
}

// Authenticate validates the bearer credential on a request and returns its
// claims. A valid token close to expiry (inside the warn buffer) is accepted
// with a warning log; a fully expired token fails. The per-user throttle is
// applied after successful validation.
func (v *Validator) Authenticate(r *http.Request) (*UserClaims, error) {
	tokenString := ExtractBearer(r)
	if tokenString == "" {
		return nil, ErrMissingCredential
	}
	return v.AuthenticateToken(tokenString)
}

// AuthenticateToken validates a raw bearer token string. See Authenticate.
func (v *Validator) AuthenticateToken(tokenString string) (*UserClaims, error) {
	if v.isRevoked(tokenString) {
		return nil, ErrTokenRevoked
	}

	claims, err := v.tokens.Validate(tokenString)
	if err != nil {
		return nil, err
	}

	if v.opts.ExpiryWarnBuffer > 0 && claims.ExpiresAt != nil {
		remaining := claims.ExpiresAt.Time.Sub(v.nowF())
		if remaining > 0 && remaining < v.opts.ExpiryWarnBuffer {
			if v.logger != nil {
				v.logger.Warn("token close to expiry",
					zap.String("user_id", claims.UserID()),
					zap.Duration("remaining", remaining),
				)
			}
		}
	}

	if !v.allow(claims.UserID()) {
		return nil, ErrThrottled
	}
	return claims, nil
}

// Authorize reports whether the claims may perform the action on the target.
// send_notification is admin-only; view_location is owner-only: a guardian may
// view only linked children, a driver only their own vehicle, an admin anything.
func (v *Validator) Authorize(claims *UserClaims, action string, target Target) bool {
	if claims == nil {
		return false
	}
	switch action {
	case ActionSendNotification:
		return claims.Role == RoleAdmin
	case ActionViewLocation:
		switch claims.Role {
		case RoleAdmin:
			return true
		case RoleGuardian:
			if target.ChildID == "" {
				return false
			}
			for _, id := range claims.LinkedChildIDs {
				if id == target.ChildID {
					return true
				}
			}
			return false
		case RoleDriver:
			return target.VehicleID != "" && target.VehicleID == claims.VehicleID
		default:
			return false
		}
	default:
		return false
	}
}

// Revoke adds a token to the revocation set. The entry lives until the token's
// own expiry; an unparseable token is kept for 24h.
func (v *Validator) Revoke(tokenString string) {
	expiry := v.nowF().Add(24 * time.Hour)
	if claims, err := v.tokens.Validate(tokenString); err == nil && claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.revoked[hashToken(tokenString)] = expiry
}

// Sweep drops revocation entries for tokens that have since expired and stale
// throttle windows.
func (v *Validator) Sweep() {
	now := v.nowF()
	v.mu.Lock()
	defer v.mu.Unlock()
	for h, exp := range v.revoked {
		if now.After(exp) {
			delete(v.revoked, h)
		}
	}
	for user, e := range v.throttle {
		if now.Sub(e.windowStart) >= v.opts.RateWindow {
			delete(v.throttle, user)
		}
	}
}

// Stats reports revocation-set and throttle occupancy.
func (v *Validator) Stats() map[string]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return map[string]int{
		"revoked_tokens":  len(v.revoked),
		"throttled_users": len(v.throttle),
	}
}

func (v *Validator) isRevoked(tokenString string) bool {
	now := v.nowF()
	h := hashToken(tokenString)
	v.mu.Lock()
	defer v.mu.Unlock()
	exp, ok := v.revoked[h]
	if !ok {
		return false
	}
	if now.After(exp) {
		delete(v.revoked, h)
		return false
	}
	return true
}

func (v *Validator) allow(userID string) bool {
	if v.opts.UserRateLimit <= 0 {
		return true
	}
	now := v.nowF()
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.throttle[userID]
	if !ok || now.Sub(e.windowStart) >= v.opts.RateWindow {
		v.throttle[userID] = &throttleEntry{count: 1, windowStart: now}
		return v.opts.UserRateLimit >= 1
	}
	e.count++
	return e.count <= v.opts.UserRateLimit
}

func hashToken(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
