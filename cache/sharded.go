// Package cache provides a sharded, read-optimized concurrent map used as
// the atlas region index. The coordinator is the single writer; renderers
// read on their draw path, so lookups must not contend with each other.
package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// ShardCount is the number of shards. A power of 2 so shard selection is a
// bitwise AND.
const ShardCount = 16

const shardMask = ShardCount - 1

// Hasher computes a shard hash for a key.
type Hasher[K any] func(K) uint64

// StringHasher computes the FNV-1a hash of a string key.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s)) // fnv.Write never returns an error
	return h.Sum64()
}

// Sharded is a thread-safe sharded map with atomic hit/miss statistics.
// Reads take a per-shard RLock only; a write to one shard never blocks
// reads of the other fifteen.
//
// Unlike an LRU cache there is no eviction: the writer replaces or deletes
// entries explicitly, which matches an index whose lifetime is managed by
// a single owner.
type Sharded[K comparable, V any] struct {
	shards [ShardCount]shard[K, V]
	hasher Hasher[K]

	hits   atomic.Uint64
	misses atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// New creates an empty sharded map using the given hasher.
func New[K comparable, V any](hasher Hasher[K]) *Sharded[K, V] {
	c := &Sharded[K, V]{hasher: hasher}
	for i := range c.shards {
		c.shards[i].m = make(map[K]V)
	}
	return c
}

func (c *Sharded[K, V]) shardFor(key K) *shard[K, V] {
	return &c.shards[c.hasher(key)&shardMask]
}

// Get returns the value for key, if present.
func (c *Sharded[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores a value for key, replacing any previous value.
func (c *Sharded[K, V]) Set(key K, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

// Update atomically transforms the value for key. The function receives
// the current value (zero value if absent) and returns the replacement.
func (c *Sharded[K, V]) Update(key K, fn func(V, bool) V) {
	s := c.shardFor(key)
	s.mu.Lock()
	cur, ok := s.m[key]
	s.m[key] = fn(cur, ok)
	s.mu.Unlock()
}

// Delete removes the entry for key, if any.
func (c *Sharded[K, V]) Delete(key K) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Len returns the total entry count across all shards.
func (c *Sharded[K, V]) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Clear removes all entries.
func (c *Sharded[K, V]) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.m = make(map[K]V)
		s.mu.Unlock()
	}
}

// Range calls fn for every entry. The shard lock is held during each call;
// fn must not call back into the map. Iteration stops when fn returns
// false.
func (c *Sharded[K, V]) Range(fn func(K, V) bool) {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for k, v := range s.m {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Stats is a snapshot of lookup counters.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Stats returns current lookup counters.
func (c *Sharded[K, V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (c *Sharded[K, V]) HitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}
