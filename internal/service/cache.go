// Package service implements the shared host services mediated to plugins
// through the sandbox facade: TTL cache, key-value store, message queues,
// and a rate-limited outbound HTTP client.
package service

import (
	"sync"
	"time"
)

// Cache is an in-memory key-value cache with per-entry TTL. Plugin access
// goes through per-plugin key prefixes applied by the facade layer.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	janitorInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

type cacheEntry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithJanitorInterval sets how often expired entries are swept.
func WithJanitorInterval(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.janitorInterval = d
		}
	}
}

// NewCache creates a cache and starts its expiry janitor.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries:         make(map[string]cacheEntry),
		janitorInterval: time.Minute,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.janitor()
	return c
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(c.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// Set stores a value. A ttl of zero or less means no expiry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Get returns a value and whether it was present and unexpired. Expired
// entries are evicted lazily on read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor. Idempotent.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
