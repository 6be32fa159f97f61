// Package hotcache implements the in-process live-state cache of spec.md
// §4.2: a bounded, sharded map of the most recent AircraftState per icao24,
// generalizing the teacher's single airspaceCache map + cacheMutex
// (GChief117-SwarmC2 backend/main.go) into multiple lock-striped shards so
// that read-heavy bounds queries (C9) don't contend with the single
// ingestion writer (C4).
package hotcache

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/telemetry"
)

const shardCount = 32

type entry struct {
	state    domain.AircraftState
	storedAt time.Time
}

type shard struct {
	mu   sync.RWMutex
	data map[string]entry
}

// Cache is a bounded, sharded, TTL-evicting store of the latest known
// AircraftState per icao24. One writer (the ingestion worker) and many
// readers (the read API) share it safely.
type Cache struct {
	shards  [shardCount]*shard
	ttl     time.Duration
	maxSize int
}

// New builds a Cache that evicts entries older than ttl and, once the
// total entry count exceeds maxSize, drops the entries with the oldest
// LastContact first (spec.md §4.2's drop-oldest-by-last_contact policy).
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{ttl: ttl, maxSize: maxSize}
	for i := range c.shards {
		c.shards[i] = &shard{data: make(map[string]entry)}
	}
	return c
}

func (c *Cache) shardFor(icao24 string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(icao24))
	return c.shards[h.Sum32()%shardCount]
}

// Put stores or overwrites the entry for state.ICAO24.
func (c *Cache) Put(state domain.AircraftState) {
	s := c.shardFor(state.ICAO24)
	s.mu.Lock()
	s.data[state.ICAO24] = entry{state: state, storedAt: time.Now()}
	s.mu.Unlock()

	total := c.Len()
	telemetry.CacheSize.Set(float64(total))
	if total > c.maxSize {
		c.evictOldest()
	}
}

// Get returns the cached state for icao24 if present and not expired.
func (c *Cache) Get(icao24 string) (domain.AircraftState, bool) {
	s := c.shardFor(icao24)
	s.mu.RLock()
	e, ok := s.data[icao24]
	s.mu.RUnlock()
	if !ok {
		return domain.AircraftState{}, false
	}
	if time.Since(e.storedAt) > c.ttl {
		c.Delete(icao24)
		return domain.AircraftState{}, false
	}
	return e.state, true
}

// Delete removes icao24 from the cache, if present.
func (c *Cache) Delete(icao24 string) {
	s := c.shardFor(icao24)
	s.mu.Lock()
	delete(s.data, icao24)
	s.mu.Unlock()

	telemetry.CacheSize.Set(float64(c.Len()))
}

// Query returns every non-expired cached state whose position is within
// bounds, for the read API's cache-first fast path (spec.md §4.9).
func (c *Cache) Query(bounds domain.BoundsQuery) []domain.AircraftState {
	var out []domain.AircraftState
	now := time.Now()
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.data {
			if now.Sub(e.storedAt) > c.ttl {
				continue
			}
			if bounds.Contains(e.state) {
				out = append(out, e.state)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the current total entry count across all shards.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.data)
		s.mu.RUnlock()
	}
	return total
}

// evictOldest drops entries with the oldest LastContact until the cache is
// back within maxSize, scanning all shards. This runs off the hot write
// path's lock, at the cost of a full scan, matching the teacher's
// assumption that cache eviction is rare relative to reads/writes.
func (c *Cache) evictOldest() {
	type candidate struct {
		icao24      string
		lastContact int64
	}

	total := 0
	var candidates []candidate
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.data)
		for k, e := range s.data {
			candidates = append(candidates, candidate{icao24: k, lastContact: e.state.LastContact})
		}
		s.mu.RUnlock()
	}

	over := total - c.maxSize
	if over <= 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastContact < candidates[j].lastContact
	})
	for i := 0; i < over && i < len(candidates); i++ {
		c.Delete(candidates[i].icao24)
	}
}
