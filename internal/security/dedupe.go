package security

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// compactAbove bounds the dedupe map; when crossed, expired entries are dropped in place.
const compactAbove = 10000

type dedupeEntry struct {
	count       int
	windowStart time.Time
}

// dedupeCache counts identical payloads per user inside a trailing window.
// Crossing the threshold is the spam signal.
type dedupeCache struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]*dedupeEntry
}

func newDedupeCache(window time.Duration) *dedupeCache {
	return &dedupeCache{
		window: window,
		items:  make(map[string]*dedupeEntry),
	}
}

// Spam records one occurrence of payload for userID and reports whether the
// occurrence count inside the window now exceeds threshold. With threshold 3,
// three identical payloads pass and the fourth is flagged.
func (d *dedupeCache) Spam(userID string, payload []byte, threshold int, now time.Time) bool {
	key := dedupeKey(userID, payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.items[key]
	if !ok || now.Sub(e.windowStart) > d.window {
		d.items[key] = &dedupeEntry{count: 1, windowStart: now}
		if len(d.items) > compactAbove {
			d.compactLocked(now)
		}
		return threshold < 1
	}
	e.count++
	return e.count > threshold
}

// Sweep drops entries whose window has fully elapsed.
func (d *dedupeCache) Sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compactLocked(now)
}

func (d *dedupeCache) compactLocked(now time.Time) {
	for key, e := range d.items {
		if now.Sub(e.windowStart) > d.window {
			delete(d.items, key)
		}
	}
}

func (d *dedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func dedupeKey(userID string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return userID + "|" + hex.EncodeToString(sum[:])
}
