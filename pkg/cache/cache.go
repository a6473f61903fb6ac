// Package cache provides the bounded response cache with at-most-once
// publication semantics.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// CachedResponse is the artifact stored per fingerprint.
type CachedResponse struct {
	Content   string
	ToolsUsed []string
}

// ResponseCache is a bounded key→artifact store. PutIfAbsent publishes at
// most once per key.
type ResponseCache interface {
	Get(key string) (*CachedResponse, bool)

	// PutIfAbsent stores the response only when the key is not present and
	// reports whether this call published it.
	PutIfAbsent(key string, response *CachedResponse) bool
}

type lruEntry struct {
	key       string
	response  *CachedResponse
	expiresAt time.Time
}

// LRUCache is an in-memory ResponseCache with LRU eviction and TTL expiry.
type LRUCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	entries    map[string]*list.Element
	order      *list.List // front = most recent
	now        func() time.Time
}

// NewLRUCache creates a cache holding at most maxEntries live responses.
func NewLRUCache(maxEntries int, ttl time.Duration) *LRUCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LRUCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (c *LRUCache) WithClock(now func() time.Time) *LRUCache {
	c.now = now
	return c
}

// Get returns the live response for key, refreshing its recency.
func (c *LRUCache) Get(key string) (*CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil, false
	}

	c.order.MoveToFront(elem)
	return entry.response, true
}

// PutIfAbsent publishes the response unless a live entry already exists.
func (c *LRUCache) PutIfAbsent(key string, response *CachedResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		if !c.now().After(entry.expiresAt) {
			return false
		}
		// Expired entry: replace in place.
		entry.response = response
		entry.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return true
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry).key)
	}

	elem := c.order.PushFront(&lruEntry{
		key:       key,
		response:  response,
		expiresAt: c.now().Add(c.ttl),
	})
	c.entries[key] = elem
	return true
}

// Len returns the number of stored entries, including not-yet-swept expired
// ones.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
