// Package cache is the TTL-keyed store backing the tracking engine's read/write
// path: writes land in memory first and are flushed to durable storage in
// batches, best-effort; reads treat entries older than the TTL as misses.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one cached value with its write timestamp.
type Entry struct {
	Key      string
	Value    interface{}
	CachedAt time.Time
}

// Persister receives batched durable writes. Failures are logged by the cache;
// the in-memory value stays authoritative until swept.
type Persister interface {
	PersistBatch(ctx context.Context, entries []Entry) error
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Entries        int   `json:"entries"`
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Expired        int64 `json:"expired"`
	PendingWrites  int   `json:"pending_writes"`
	FlushedBatches int64 `json:"flushed_batches"`
	FailedFlushes  int64 `json:"failed_flushes"`
}

// Options configures a Cache.
type Options struct {
	TTL           time.Duration // default 5m
	FlushBatch    int           // default 50
	SweepInterval time.Duration // default 60s
}

func (o *Options) applyDefaults() {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.FlushBatch <= 0 {
		o.FlushBatch = 50
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 60 * time.Second
	}
}

// Cache is a mutex-guarded TTL map with cache-first writes. Safe for concurrent use.
type Cache struct {
	opts      Options
	persister Persister
	logger    *zap.Logger

	mu      sync.Mutex
	items   map[string]Entry
	pending []Entry
	hits    int64
	misses  int64
	expired int64
	flushed int64
	failed  int64

	stopCh chan struct{}
	wg     sync.WaitGroup
	nowF   func() time.Time
}

// New returns a Cache. persister may be nil, which disables durable writes.
func New(opts Options, persister Persister, logger *zap.Logger) *Cache {
	opts.applyDefaults()
	return &Cache{
		opts:      opts,
		persister: persister,
		logger:    logger,
		items:     make(map[string]Entry),
		nowF:      func() time.Time { return time.Now().UTC() },
	}
}

// Put stores a value immediately and queues it for durable write. When the
// pending queue reaches the batch size the batch is flushed asynchronously.
func (c *Cache) Put(key string, value interface{}) {
	now := c.nowF()
	e := Entry{Key: key, Value: value, CachedAt: now}

	var batch []Entry
	c.mu.Lock()
	c.items[key] = e
	if c.persister != nil {
		c.pending = append(c.pending, e)
		if len(c.pending) >= c.opts.FlushBatch {
			batch = c.pending
			c.pending = nil
		}
	}
	c.mu.Unlock()

	if batch != nil {
		c.wg.Add(1)
		go c.flush(batch)
	}
}

// Get returns the cached value for key. An entry older than the TTL is deleted
// and reported as a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	now := c.nowF()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if now.Sub(e.CachedAt) > c.opts.TTL {
		delete(c.items, key)
		c.expired++
		c.misses++
		return nil, false
	}
	c.hits++
	return e.Value, true
}

// Delete removes an entry. No-op for unknown keys.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// SweepExpired drops every entry older than the TTL and returns how many were removed.
func (c *Cache) SweepExpired() int {
	now := c.nowF()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.items {
		if now.Sub(e.CachedAt) > c.opts.TTL {
			delete(c.items, key)
			removed++
		}
	}
	c.expired += int64(removed)
	return removed
}

// Flush forces a durable write of everything still pending. Called on shutdown.
func (c *Cache) Flush() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) > 0 && c.persister != nil {
		c.wg.Add(1)
		c.flush(batch)
	}
	c.wg.Wait()
}

// Start launches the periodic expiry sweep. Stop must be called on shutdown.
func (c *Cache) Start() {
	c.mu.Lock()
	if c.stopCh != nil {
		c.mu.Unlock()
		return
	}
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.SweepExpired()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop cancels the sweep loop and flushes pending writes.
func (c *Cache) Stop() {
	c.mu.Lock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.mu.Unlock()
	c.Flush()
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:        len(c.items),
		Hits:           c.hits,
		Misses:         c.misses,
		Expired:        c.expired,
		PendingWrites:  len(c.pending),
		FlushedBatches: c.flushed,
		FailedFlushes:  c.failed,
	}
}

// flush writes one batch through the persister. The caller must have added the
// goroutine to the wait group.
func (c *Cache) flush(batch []Entry) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.persister.PersistBatch(ctx, batch)

	c.mu.Lock()
	if err != nil {
		c.failed++
	} else {
		c.flushed++
	}
	c.mu.Unlock()

	if err != nil && c.logger != nil {
		c.logger.Error("durable cache write failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
	}
}
