package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePersister struct {
	mu      sync.Mutex
	batches [][]Entry
	fail    bool
}

func (f *fakePersister) PersistBatch(ctx context.Context, entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("storage down")
	}
	f.batches = append(f.batches, entries)
	return nil
}

func (f *fakePersister) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestPutGet(t *testing.T) {
	c := New(Options{}, nil, nil)

	c.Put("vehicle:1:position", "somewhere")
	got, ok := c.Get("vehicle:1:position")
	if !ok {
		t.Fatal("Get should hit immediately after Put")
	}
	if got != "somewhere" {
		t.Errorf("Get = %v, want somewhere", got)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get of unknown key should miss")
	}
}

func TestGet_ExpiredEntryIsDeleted(t *testing.T) {
	c := New(Options{TTL: 5 * time.Minute}, nil, nil)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c.nowF = func() time.Time { return now }

	c.Put("k", "v")
	now = now.Add(5*time.Minute + time.Second)

	if _, ok := c.Get("k"); ok {
		t.Fatal("Get should miss after TTL")
	}
	// The stale entry is gone, not just hidden.
	if got := c.Stats().Entries; got != 0 {
		t.Errorf("Entries = %d, want 0 after stale read", got)
	}
}

func TestSweepExpired(t *testing.T) {
	c := New(Options{TTL: 5 * time.Minute}, nil, nil)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c.nowF = func() time.Time { return now }

	c.Put("old", 1)
	now = now.Add(3 * time.Minute)
	c.Put("fresh", 2)
	now = now.Add(2*time.Minute + time.Second)

	if removed := c.SweepExpired(); removed != 1 {
		t.Errorf("SweepExpired = %d, want 1", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry should survive the sweep")
	}
}

func TestPut_FlushesAtBatchSize(t *testing.T) {
	p := &fakePersister{}
	c := New(Options{FlushBatch: 3}, p, nil)

	c.Put("a", 1)
	c.Put("b", 2)
	if p.batchCount() != 0 {
		t.Fatal("no flush expected below batch size")
	}
	c.Put("c", 3)
	c.Flush() // wait for the async write

	if got := p.batchCount(); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}
	p.mu.Lock()
	if len(p.batches[0]) != 3 {
		t.Errorf("batch len = %d, want 3", len(p.batches[0]))
	}
	p.mu.Unlock()

	if got := c.Stats().FlushedBatches; got != 1 {
		t.Errorf("FlushedBatches = %d, want 1", got)
	}
}

func TestFlush_WritesPartialBatch(t *testing.T) {
	p := &fakePersister{}
	c := New(Options{FlushBatch: 50}, p, nil)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Flush()

	if got := p.batchCount(); got != 1 {
		t.Fatalf("batches = %d, want 1 after explicit Flush", got)
	}
	if got := c.Stats().PendingWrites; got != 0 {
		t.Errorf("PendingWrites = %d, want 0", got)
	}
}

func TestFlush_FailureKeepsMemoryAuthoritative(t *testing.T) {
	p := &fakePersister{fail: true}
	c := New(Options{FlushBatch: 1}, p, nil)

	c.Put("k", "v")
	c.Flush()

	if got := c.Stats().FailedFlushes; got == 0 {
		t.Error("FailedFlushes should count the failure")
	}
	if _, ok := c.Get("k"); !ok {
		t.Error("in-memory value must survive a failed durable write")
	}
}

func TestStats_HitsAndMisses(t *testing.T) {
	c := New(Options{}, nil, nil)
	c.Put("k", "v")
	c.Get("k")
	c.Get("k")
	c.Get("nope")

	s := c.Stats()
	if s.Hits != 2 {
		t.Errorf("Hits = %d, want 2", s.Hits)
	}
	if s.Misses != 1 {
		t.Errorf("Misses = %d, want 1", s.Misses)
	}
}

func TestStartStop(t *testing.T) {
	c := New(Options{SweepInterval: 10 * time.Millisecond, TTL: time.Millisecond}, nil, nil)
	c.Put("k", "v")
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	if got := c.Stats().Entries; got != 0 {
		t.Errorf("Entries = %d, want 0 after periodic sweep", got)
	}
}
