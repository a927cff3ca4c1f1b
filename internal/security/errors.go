package security

import "errors"

// Admission denial reasons. The gateway maps these to WebSocket close codes and
// error frames; they never carry internal detail across the transport boundary.
var (
	ErrBlacklisted        = errors.New("ip is blacklisted")
	ErrOriginNotAllowed   = errors.New("origin not allowed")
	ErrTooManyConnections = errors.New("too many connections from this ip")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrSpamDetected       = errors.New("duplicate message spam detected")
)
