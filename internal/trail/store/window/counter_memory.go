// Package window provides sliding-window observation counters for the alert
// rules. The in-memory counter suits a single instance; the redis counter
// shares windows across replicas.
package window

import (
	"context"
	"sync"
	"time"
)

// InMemoryCounter keeps per-key observation timestamps and counts the ones
// inside the trailing window.
type InMemoryCounter struct {
	mu   sync.Mutex
	keys map[string][]time.Time
	now  func() time.Time
}

// NewInMemoryCounter creates an empty counter.
func NewInMemoryCounter() *InMemoryCounter {
	return &InMemoryCounter{
		keys: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Observe records one observation and returns the in-window count.
func (c *InMemoryCounter) Observe(_ context.Context, key string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	kept := c.prune(key, now, window)
	kept = append(kept, now)
	c.keys[key] = kept
	return len(kept), nil
}

// Count returns the in-window count without recording.
func (c *InMemoryCounter) Count(_ context.Context, key string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.prune(key, c.now(), window)
	c.keys[key] = kept
	return len(kept), nil
}

// prune drops observations older than the window. Caller holds the lock.
func (c *InMemoryCounter) prune(key string, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	stamps := c.keys[key]
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
