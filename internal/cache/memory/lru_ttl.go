package memory

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
	size      int
}

// LRUTTL is a threadsafe LRU cache with per-entry TTL and an optional byte
// budget across all entries.
type LRUTTL[K comparable, V any] struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[K, entry[V]]
	maxBytes   int
	totalBytes int
	ttl        time.Duration
	now        func() time.Time
}

func NewLRUTTL[K comparable, V any](maxEntries int, maxBytes int, ttl time.Duration) *LRUTTL[K, V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	c := &LRUTTL[K, V]{
		maxBytes: maxBytes,
		ttl:      ttl,
		now:      time.Now,
	}
	// NewLRU only fails for a non-positive size.
	c.lru, _ = simplelru.NewLRU[K, entry[V]](maxEntries, c.onEvict)
	return c
}

// onEvict runs with c.mu held by the caller of the lru method.
func (c *LRUTTL[K, V]) onEvict(_ K, ent entry[V]) {
	c.totalBytes -= ent.size
	if c.totalBytes < 0 {
		c.totalBytes = 0
	}
}

func (c *LRUTTL[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if c.now().After(ent.expiresAt) {
		c.lru.Remove(key)
		return zero, false
	}
	return ent.value, true
}

func (c *LRUTTL[K, V]) Set(key K, value V, sizeBytes int) {
	if c == nil {
		return
	}
	if sizeBytes < 0 {
		sizeBytes = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && sizeBytes > c.maxBytes {
		c.lru.Remove(key)
		return
	}
	if old, ok := c.lru.Peek(key); ok {
		c.totalBytes -= old.size
	}
	c.lru.Add(key, entry[V]{
		value:     value,
		size:      sizeBytes,
		expiresAt: c.now().Add(c.ttl),
	})
	c.totalBytes += sizeBytes
	for c.maxBytes > 0 && c.totalBytes > c.maxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
}

func (c *LRUTTL[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

func (c *LRUTTL[K, V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.totalBytes = 0
}

func (c *LRUTTL[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes reports the accounted size of all live entries.
func (c *LRUTTL[K, V]) Bytes() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}
