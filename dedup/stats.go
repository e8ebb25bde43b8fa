package dedup

import (
	"sort"
	"sync"
	"time"
)

// KeyStats is the per-key counter set. AvgLatency is an arithmetic
// running mean over every settled attempt for the key.
type KeyStats struct {
	Key        string
	Attempts   uint64
	Successes  uint64
	Errors     uint64
	AvgLatency time.Duration
}

// Snapshot is a read-only view of the deduplicator counters.
type Snapshot struct {
	PendingCount   int
	TotalAttempts  uint64
	TotalSuccesses uint64
	TotalErrors    uint64
	SuccessRate    float64 // settled successes over settled attempts
	TopKeys        []KeyStats
}

type keyCounters struct {
	attempts   uint64
	successes  uint64
	errors     uint64
	settled    uint64
	avgLatency time.Duration
}

type statsRegistry struct {
	mu   sync.Mutex
	keys map[string]*keyCounters
}

func newStatsRegistry() *statsRegistry {
	return &statsRegistry{keys: make(map[string]*keyCounters)}
}

func (s *statsRegistry) counters(key string) *keyCounters {
	c, ok := s.keys[key]
	if !ok {
		c = &keyCounters{}
		s.keys[key] = c
	}
	return c
}

func (s *statsRegistry) recordAttempt(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(key).attempts++
}

func (s *statsRegistry) recordSuccess(key string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(key)
	c.successes++
	c.observe(latency)
}

func (s *statsRegistry) recordError(key string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(key)
	c.errors++
	c.observe(latency)
}

func (c *keyCounters) observe(latency time.Duration) {
	c.settled++
	c.avgLatency += (latency - c.avgLatency) / time.Duration(c.settled)
}

// Stats assembles a snapshot with the topN busiest keys by attempt
// volume.
func (d *Deduplicator) Stats(topN int) Snapshot {
	d.stats.mu.Lock()
	all := make([]KeyStats, 0, len(d.stats.keys))
	var attempts, successes, errs uint64
	for key, c := range d.stats.keys {
		attempts += c.attempts
		successes += c.successes
		errs += c.errors
		all = append(all, KeyStats{
			Key:        key,
			Attempts:   c.attempts,
			Successes:  c.successes,
			Errors:     c.errors,
			AvgLatency: c.avgLatency,
		})
	}
	d.stats.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Attempts != all[j].Attempts {
			return all[i].Attempts > all[j].Attempts
		}
		return all[i].Key < all[j].Key
	})
	if topN >= 0 && topN < len(all) {
		all = all[:topN]
	}

	rate := 0.0
	if settled := successes + errs; settled > 0 {
		rate = float64(successes) / float64(settled)
	}

	return Snapshot{
		PendingCount:   d.PendingCount(),
		TotalAttempts:  attempts,
		TotalSuccesses: successes,
		TotalErrors:    errs,
		SuccessRate:    rate,
		TopKeys:        all,
	}
}
