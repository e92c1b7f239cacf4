package bus

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SnapshotCache is a process-local LRU with TTL for hot read aggregates
// (recent messages, worker snapshots). It fronts the shared Cache: entries
// here avoid even the redis round trip, and eviction is purely advisory.
type SnapshotCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewSnapshotCache builds a cache holding at most size entries for ttl.
func NewSnapshotCache[V any](size int, ttl time.Duration) *SnapshotCache[V] {
	if size <= 0 {
		size = 128
	}
	return &SnapshotCache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the cached value when present and fresh.
func (c *SnapshotCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Put stores the value.
func (c *SnapshotCache[V]) Put(key string, value V) {
	c.lru.Add(key, value)
}

// Invalidate drops the key after a write so readers fall through to the store.
func (c *SnapshotCache[V]) Invalidate(key string) {
	c.lru.Remove(key)
}
