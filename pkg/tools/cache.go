package tools

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long a quote or news lookup stays fresh.
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	value  any
	stored time.Time
}

// Cache is a TTL cache keyed by function and symbol. Entries expire a fixed
// time after they were stored; reads do not extend them.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewCache returns a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// CacheKey joins a function name and symbol into a cache key.
func CacheKey(function, symbol string) string {
	return function + ":" + symbol
}

// Get returns a fresh entry. Stale entries are dropped.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.stored) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Put stores value under key.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, stored: c.now()}
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
