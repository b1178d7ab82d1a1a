package store

import (
	"sync"
	"time"
)

// Cache is an optional fast key-value layer for low-latency reads of the
// latest snapshots. It is not the system of record; the durable store is
// authoritative on conflict.
type Cache interface {
	Set(key string, value any, ttl time.Duration)
	Get(key string) (any, bool)
	Delete(key string)
	Clear()
}

type cacheEntry struct {
	value     any
	timestamp time.Time
	ttl       time.Duration
}

// MemoryCache is an in-process Cache with per-entry TTL
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache allocates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry)}
}

// Set stores value under key. A non-positive ttl keeps the entry forever.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, timestamp: time.Now(), ttl: ttl}
}

// Get returns the value for key if present and not expired
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.ttl > 0 && time.Since(entry.timestamp) > entry.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Delete removes the entry for key
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops all entries
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
