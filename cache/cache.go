// Package cache provides a fixed-capacity, TTL-bounded store for
// frequently read records. Eviction is least-recently-used on insert when
// full, lazy on read once the TTL has elapsed, and periodic via the
// sweeper so entries that are never re-read do not pin memory. All
// operations are synchronous and never touch I/O.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Config struct {
	Logger   *slog.Logger
	Capacity int
	TTL      time.Duration
}

type entry[V any] struct {
	value          V
	cachedAt       time.Time
	lastAccessedAt time.Time
	accessCount    int64
}

// Bounded is keyed by a caller-supplied string id. Capacity and TTL are
// fixed for the lifetime of the instance.
type Bounded[V any] struct {
	logger   *slog.Logger
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*entry[V]

	now func() time.Time
}

func New[V any](cfg Config) *Bounded[V] {
	return &Bounded[V]{
		logger:   cfg.Logger.WithGroup("bounded_cache"),
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		entries:  make(map[string]*entry[V]),
		now:      time.Now,
	}
}

// Get returns the cached value for id. An entry whose age exceeds the TTL
// is treated as absent and evicted on the spot. A hit bumps the access
// count and the last-accessed time.
func (c *Bounded[V]) Get(id string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[id]
	if !ok {
		return zero, false
	}
	if c.expiredLocked(e) {
		delete(c.entries, id)
		c.logger.Debug("evicted expired entry on read", "id", id)
		return zero, false
	}

	e.accessCount++
	e.lastAccessedAt = c.now()
	return e.value, true
}

// Put inserts value under id with a fresh cachedAt and an access count of
// one. When the cache is full, the entry with the oldest last-accessed
// time is evicted first.
func (c *Bounded[V]) Put(id string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	now := c.now()
	c.entries[id] = &entry[V]{
		value:          value,
		cachedAt:       now,
		lastAccessedAt: now,
		accessCount:    1,
	}
}

// Update applies mutate to the entry in place without resetting cachedAt,
// so the TTL still counts from the original insertion. It reports whether
// an entry was updated; absent or expired entries are a no-op.
func (c *Bounded[V]) Update(id string, mutate func(value *V)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return false
	}
	if c.expiredLocked(e) {
		delete(c.entries, id)
		return false
	}

	mutate(&e.value)
	return true
}

func (c *Bounded[V]) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

func (c *Bounded[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

func (c *Bounded[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SweepExpired removes every entry whose age exceeds the TTL and returns
// the number removed.
func (c *Bounded[V]) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if c.expiredLocked(e) {
			delete(c.entries, id)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("sweep removed expired entries", "count", removed)
	}
	return removed
}

// StartSweeper runs SweepExpired on the given interval until ctx is
// cancelled. It is independent of read traffic.
func (c *Bounded[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.SweepExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// MostPopular returns up to n live values sorted by access count
// descending. The returned slice holds value copies, never internal
// bookkeeping.
func (c *Bounded[V]) MostPopular(n int) []V {
	return c.topN(n, func(a, b *entry[V]) bool {
		return a.accessCount > b.accessCount
	})
}

// MostRecent returns up to n live values sorted by last-accessed time
// descending.
func (c *Bounded[V]) MostRecent(n int) []V {
	return c.topN(n, func(a, b *entry[V]) bool {
		return a.lastAccessedAt.After(b.lastAccessedAt)
	})
}

func (c *Bounded[V]) topN(n int, less func(a, b *entry[V]) bool) []V {
	c.mu.Lock()
	live := make([]*entry[V], 0, len(c.entries))
	for _, e := range c.entries {
		if !c.expiredLocked(e) {
			live = append(live, e)
		}
	}
	c.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return less(live[i], live[j]) })
	if n > len(live) {
		n = len(live)
	}
	out := make([]V, 0, n)
	for _, e := range live[:n] {
		out = append(out, e.value)
	}
	return out
}

func (c *Bounded[V]) expiredLocked(e *entry[V]) bool {
	return c.now().Sub(e.cachedAt) > c.ttl
}

func (c *Bounded[V]) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	first := true
	for id, e := range c.entries {
		if first || e.lastAccessedAt.Before(oldest) {
			oldestID = id
			oldest = e.lastAccessedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestID)
		c.logger.Debug("evicted least recently used entry", "id", oldestID)
	}
}
