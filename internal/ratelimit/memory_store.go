// memory_store.go: In-process fixed-window counter store.
// Serves single-instance deployments and the fail-safe fallback when the
// shared Redis backend is unreachable.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowCounter tracks one key's count within its current window.
type windowCounter struct {
	start    time.Time
	window   time.Duration
	count    int64
	lastSeen time.Time
}

// MemoryStore implements WindowStore with an in-process map. Counter
// mutation happens under a single mutex with short critical sections, so
// increments are atomic per key. Idle counters are garbage collected.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	now      func() time.Time

	gcTicker *time.Ticker
	stopGC   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a memory store with a background janitor that
// removes counters idle longer than their window.
func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		counters: make(map[string]*windowCounter),
		now:      time.Now,
		stopGC:   make(chan struct{}),
	}
	ms.gcTicker = time.NewTicker(time.Minute)
	go ms.gcRoutine()
	return ms
}

// Incr atomically increments the counter for key, resetting it first when
// the window has expired.
func (ms *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	c, ok := ms.counters[key]
	if !ok || now.Sub(c.start) >= c.window {
		c = &windowCounter{start: now, window: window}
		ms.counters[key] = c
	}
	c.count++
	c.lastSeen = now
	return c.count, c.window - now.Sub(c.start), nil
}

// Peek returns the current count without incrementing.
func (ms *MemoryStore) Peek(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	c, ok := ms.counters[key]
	if !ok || now.Sub(c.start) >= c.window {
		return 0, window, nil
	}
	return c.count, c.window - now.Sub(c.start), nil
}

// Reset clears the counter for key.
func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.counters, key)
	return nil
}

// Close stops the janitor.
func (ms *MemoryStore) Close() {
	ms.stopOnce.Do(func() {
		close(ms.stopGC)
	})
}

func (ms *MemoryStore) gcRoutine() {
	for {
		select {
		case <-ms.gcTicker.C:
			ms.gcExpired()
		case <-ms.stopGC:
			ms.gcTicker.Stop()
			return
		}
	}
}

// gcExpired removes counters whose window expired and that have not been
// touched for at least one further window.
func (ms *MemoryStore) gcExpired() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	for key, c := range ms.counters {
		if now.Sub(c.lastSeen) > c.window {
			delete(ms.counters, key)
		}
	}
}
