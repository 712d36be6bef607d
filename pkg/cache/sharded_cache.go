// Package cache provides a sharded in-memory map with per-entry expiry.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedTTLCache spreads keys over shards to keep lock contention low. Entries
// expire ttl after they were set.
type ShardedTTLCache[V any] struct {
	shards [numShards]*shard[V]
	ttl    time.Duration
	now    func() time.Time
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewShardedTTLCache creates a cache whose entries live for ttl.
func NewShardedTTLCache[V any](ttl time.Duration) *ShardedTTLCache[V] {
	c := &ShardedTTLCache[V]{ttl: ttl, now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{
			items: make(map[string]entry[V]),
		}
	}
	return c
}

// getShard returns the shard for the given key.
func (c *ShardedTTLCache[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores value under key, replacing any previous entry.
func (c *ShardedTTLCache[V]) Set(key string, value V) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	s.mu.Unlock()
}

// Get retrieves an unexpired value.
func (c *ShardedTTLCache[V]) Get(key string) (V, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Take retrieves and removes key in one step, so a value can be consumed once.
func (c *ShardedTTLCache[V]) Take(key string) (V, bool) {
	s := c.getShard(key)
	s.mu.Lock()
	e, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes a key from the cache.
func (c *ShardedTTLCache[V]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards, expired ones included until Cleanup.
func (c *ShardedTTLCache[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes expired entries.
func (c *ShardedTTLCache[V]) Cleanup() int {
	removed := 0
	now := c.now()

	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if !now.Before(e.expiresAt) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// CacheStats provides cache statistics.
type CacheStats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	Expired     int            `json:"expired"`
}

// Stats returns cache statistics.
func (c *ShardedTTLCache[V]) Stats() CacheStats {
	stats := CacheStats{}
	now := c.now()

	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		for _, e := range s.items {
			if !now.Before(e.expiresAt) {
				stats.Expired++
			}
		}
		s.mu.RUnlock()
	}
	return stats
}
