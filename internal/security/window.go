package security

import (
	"sync"
	"time"
)

type windowEntry struct {
	count       int
	windowStart time.Time
}

// windowCounter counts events per subject in fixed windows of a configured
// duration. A subject's count resets when its window has fully elapsed.
type windowCounter struct {
	mu       sync.Mutex
	duration time.Duration
	entries  map[string]*windowEntry
}

func newWindowCounter(duration time.Duration) *windowCounter {
	return &windowCounter{
		duration: duration,
		entries:  make(map[string]*windowEntry),
	}
}

// Allow records one event for the subject and reports whether the count is still
// within limit for the current window.
func (w *windowCounter) Allow(subject string, limit int, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[subject]
	if !ok || now.Sub(e.windowStart) >= w.duration {
		w.entries[subject] = &windowEntry{count: 1, windowStart: now}
		return limit >= 1
	}
	e.count++
	return e.count <= limit
}

// Sweep drops subjects whose window has fully elapsed.
func (w *windowCounter) Sweep(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for subject, e := range w.entries {
		if now.Sub(e.windowStart) >= w.duration {
			delete(w.entries, subject)
		}
	}
}

func (w *windowCounter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
