// Package cache holds the in-memory element and vision result caches
// shared across identification requests for the life of the process.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/docugen/platform/internal/element"
)

// MakeKey builds a bucketed cache key. Coordinates collapse onto a
// 10-unit grid and a missing app name maps to "unknown", so repeated
// clicks in the neighborhood of one control share an entry.
func MakeKey(platform element.Platform, appName string, x, y int) string {
	if appName == "" {
		appName = "unknown"
	}
	return fmt.Sprintf("%s|%s|%d|%d", platform, appName, bucketDiv(x), bucketDiv(y))
}

// bucketDiv floors toward negative infinity so coordinates on
// secondary monitors left of or above the primary bucket consistently.
func bucketDiv(v int) int {
	if v < 0 {
		return -((-v + bucketSize - 1) / bucketSize)
	}
	return v / bucketSize
}

type elementEntry struct {
	key  string
	meta element.Metadata
}

// ElementCache is a fixed-capacity LRU keyed by bucketed click
// coordinates. Safe for concurrent use.
type ElementCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element

	hits   uint64
	misses uint64
}

// NewElementCache returns a cache holding at most capacity entries.
// Non-positive capacity falls back to the default.
func NewElementCache(capacity int) *ElementCache {
	if capacity <= 0 {
		capacity = DefaultElementCapacity
	}
	return &ElementCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached metadata for key and promotes it to most
// recently used. The second return reports whether the key was found.
func (c *ElementCache) Get(key string) (element.Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return element.Metadata{}, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*elementEntry).meta, true
}

// Put stores metadata under key. Overwriting an existing key never
// evicts; inserting past capacity evicts the least recently used entry.
func (c *ElementCache) Put(key string, meta element.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*elementEntry).meta = meta
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&elementEntry{key: key, meta: meta})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*elementEntry).key)
	}
}

// Len reports the number of live entries.
func (c *ElementCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit and miss counts and the derived hit
// rate. The rate is 0 before any access.
func (c *ElementCache) Stats() (hits, misses uint64, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return c.hits, c.misses, rate
}

// Clear drops every entry but keeps the hit/miss counters.
func (c *ElementCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element, c.capacity)
}
