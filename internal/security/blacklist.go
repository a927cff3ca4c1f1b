package security

import (
	"sync"
	"time"
)

// BlacklistEntry is a temporary ban for an IP.
type BlacklistEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	AddedAt   time.Time `json:"added_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// blacklist holds banned IPs with wall-clock expiry. Entries are evicted lazily
// on lookup and in bulk by Sweep.
type blacklist struct {
	mu      sync.Mutex
	entries map[string]BlacklistEntry
}

func newBlacklist() *blacklist {
	return &blacklist{entries: make(map[string]BlacklistEntry)}
}

// Add bans an IP for ttl. An existing entry is replaced.
func (b *blacklist) Add(ip, reason string, ttl time.Duration, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[ip] = BlacklistEntry{
		IP:        ip,
		Reason:    reason,
		AddedAt:   now,
		ExpiresAt: now.Add(ttl),
	}
}

// Contains reports whether the IP is currently banned, evicting the entry if expired.
func (b *blacklist) Contains(ip string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[ip]
	if !ok {
		return false
	}
	if now.After(e.ExpiresAt) {
		delete(b.entries, ip)
		return false
	}
	return true
}

// Sweep drops every expired entry.
func (b *blacklist) Sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ip, e := range b.entries {
		if now.After(e.ExpiresAt) {
			delete(b.entries, ip)
		}
	}
}

// Entries returns a copy of the active entries.
func (b *blacklist) Entries(now time.Time) []BlacklistEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BlacklistEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if !now.After(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	return out
}

func (b *blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
