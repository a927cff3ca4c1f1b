// Package security implements the admission governor for the realtime gateway:
// per-IP connection caps, per-IP and per-user message rate windows, payload-size
// limits, duplicate-message detection, origin allow-listing and an IP blacklist
// with automatic escalation. Decisions are synchronous and never block on I/O.
package security

import (
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options configures a Governor. Zero values fall back to the documented defaults.
type Options struct {
	AllowedOrigins      []string      // empty means open mode
	MaxConnectionsPerIP int           // default 10
	MaxMessagesPerIP    int           // per rate window, default 100
	MaxMessagesPerUser  int           // per rate window, default 60
	RateWindow          time.Duration // default 60s
	MaxPayloadBytes     int           // default 10240
	DuplicateThreshold  int           // default 3
	DuplicateWindow     time.Duration // default 5m
	MaxViolations       int           // default 5
	BlacklistTTL        time.Duration // default 1h
}

func (o *Options) applyDefaults() {
	if o.MaxConnectionsPerIP <= 0 {
		o.MaxConnectionsPerIP = 10
	}
	if o.MaxMessagesPerIP <= 0 {
		o.MaxMessagesPerIP = 100
	}
	if o.MaxMessagesPerUser <= 0 {
		o.MaxMessagesPerUser = 60
	}
	if o.RateWindow <= 0 {
		o.RateWindow = 60 * time.Second
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = 10240
	}
	if o.DuplicateThreshold <= 0 {
		o.DuplicateThreshold = 3
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = 5 * time.Minute
	}
	if o.MaxViolations <= 0 {
		o.MaxViolations = 5
	}
	if o.BlacklistTTL <= 0 {
		o.BlacklistTTL = time.Hour
	}
}

// Stats is a point-in-time snapshot of governor state.
type Stats struct {
	ActiveIPs          int   `json:"active_ips"`
	BlacklistedIPs     int   `json:"blacklisted_ips"`
	TrackedIPWindows   int   `json:"tracked_ip_windows"`
	TrackedUserWindows int   `json:"tracked_user_windows"`
	DedupeKeys         int   `json:"dedupe_keys"`
	DeniedConnections  int64 `json:"denied_connections"`
	DeniedMessages     int64 `json:"denied_messages"`
}

// Governor gates connections and messages. All methods are safe for concurrent use.
type Governor struct {
	opts Options

	origins    map[string]struct{}
	ipWindow   *windowCounter
	userWindow *windowCounter
	dedupe     *dedupeCache
	banned     *blacklist

	mu         sync.Mutex
	connCounts map[string]int
	violations map[string]int
	deniedConn int64
	deniedMsg  int64

	logger *zap.Logger
	nowF   func() time.Time
}

// NewGovernor returns a Governor with the given options.
func NewGovernor(opts Options, logger *zap.Logger) *Governor {
	opts.applyDefaults()
	origins := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[o] = struct{}{}
	}
	return &Governor{
		opts:       opts,
		origins:    origins,
		ipWindow:   newWindowCounter(opts.RateWindow),
		userWindow: newWindowCounter(opts.RateWindow),
		dedupe:     newDedupeCache(opts.DuplicateWindow),
		banned:     newBlacklist(),
		connCounts: make(map[string]int),
		violations: make(map[string]int),
		logger:     logger,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// AdmitConnection decides whether a new connection from ip with the given Origin
// header may proceed. On success the per-IP connection count is incremented; the
// caller must pair every success with ReleaseConnection. A nil error means admit.
func (g *Governor) AdmitConnection(ip, origin string) error {
	now := g.nowF()

	if g.banned.Contains(ip, now) {
		g.countDeniedConn()
		return ErrBlacklisted
	}
	if !g.originAllowed(origin) {
		g.countDeniedConn()
		g.RecordViolation(ip, "origin")
		return ErrOriginNotAllowed
	}

	g.mu.Lock()
	if g.connCounts[ip] >= g.opts.MaxConnectionsPerIP {
		g.mu.Unlock()
		g.countDeniedConn()
		g.RecordViolation(ip, "connection_cap")
		return ErrTooManyConnections
	}
	g.connCounts[ip]++
	g.mu.Unlock()
	return nil
}

// ReleaseConnection decrements the per-IP connection count after a disconnect.
func (g *Governor) ReleaseConnection(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.connCounts[ip]; n <= 1 {
		delete(g.connCounts, ip)
	} else {
		g.connCounts[ip] = n - 1
	}
}

// AdmitMessage decides whether an inbound message may be processed. Checks run in
// order: blacklist, per-IP window, per-user window, payload size, duplicate spam.
// Every denial except blacklist records a violation for the IP. A nil error means admit.
func (g *Governor) AdmitMessage(ip, userID string, payload []byte) error {
	now := g.nowF()

	if g.banned.Contains(ip, now) {
		g.countDeniedMsg()
		return ErrBlacklisted
	}
	if !g.ipWindow.Allow(ip, g.opts.MaxMessagesPerIP, now) {
		g.countDeniedMsg()
		g.RecordViolation(ip, "ip_rate")
		return ErrRateLimited
	}
	if !g.userWindow.Allow(userID, g.opts.MaxMessagesPerUser, now) {
		g.countDeniedMsg()
		g.RecordViolation(ip, "user_rate")
		return ErrRateLimited
	}
	if len(payload) > g.opts.MaxPayloadBytes {
		g.countDeniedMsg()
		g.RecordViolation(ip, "payload_size")
		return ErrPayloadTooLarge
	}
	if g.dedupe.Spam(userID, payload, g.opts.DuplicateThreshold, now) {
		g.countDeniedMsg()
		g.RecordViolation(ip, "spam")
		return ErrSpamDetected
	}
	return nil
}

// RecordViolation increments the violation counter for an IP. Reaching the
// configured maximum blacklists the IP automatically and resets its counter.
func (g *Governor) RecordViolation(ip, kind string) {
	g.mu.Lock()
	g.violations[ip]++
	count := g.violations[ip]
	escalate := count >= g.opts.MaxViolations
	if escalate {
		delete(g.violations, ip)
	}
	g.mu.Unlock()

	if escalate {
		g.Blacklist(ip, "violation threshold reached: "+kind, g.opts.BlacklistTTL)
	}
}

// Blacklist bans an IP for ttl.
func (g *Governor) Blacklist(ip, reason string, ttl time.Duration) {
	g.banned.Add(ip, reason, ttl, g.nowF())
	if g.logger != nil {
		g.logger.Warn("ip blacklisted",
			zap.String("ip", ip),
			zap.String("reason", reason),
			zap.Duration("ttl", ttl),
		)
	}
}

// IsBlacklisted reports whether the IP is currently banned.
func (g *Governor) IsBlacklisted(ip string) bool {
	return g.banned.Contains(ip, g.nowF())
}

// Sweep purges expired rate windows, dedupe entries and blacklist entries.
// Called periodically by the gateway.
func (g *Governor) Sweep() {
	now := g.nowF()
	g.ipWindow.Sweep(now)
	g.userWindow.Sweep(now)
	g.dedupe.Sweep(now)
	g.banned.Sweep(now)
}

// BlacklistEntries returns the currently active bans.
func (g *Governor) BlacklistEntries() []BlacklistEntry {
	return g.banned.Entries(g.nowF())
}

// Stats returns a snapshot of governor occupancy and denial counters.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	activeIPs := len(g.connCounts)
	deniedConn := g.deniedConn
	deniedMsg := g.deniedMsg
	g.mu.Unlock()

	return Stats{
		ActiveIPs:          activeIPs,
		BlacklistedIPs:     g.banned.Len(),
		TrackedIPWindows:   g.ipWindow.Len(),
		TrackedUserWindows: g.userWindow.Len(),
		DedupeKeys:         g.dedupe.Len(),
		DeniedConnections:  deniedConn,
		DeniedMessages:     deniedMsg,
	}
}

func (g *Governor) countDeniedConn() {
	g.mu.Lock()
	g.deniedConn++
	g.mu.Unlock()
}

func (g *Governor) countDeniedMsg() {
	g.mu.Lock()
	g.deniedMsg++
	g.mu.Unlock()
}

// originAllowed accepts any origin in open mode (no allow-list), any listed
// origin, and loopback origins regardless of the list.
func (g *Governor) originAllowed(origin string) bool {
	if len(g.origins) == 0 {
		return true
	}
	if _, ok := g.origins[origin]; ok {
		return true
	}
	return isLoopbackOrigin(origin)
}

func isLoopbackOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
