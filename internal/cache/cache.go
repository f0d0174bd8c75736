package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores materialized query payloads keyed by query signature.
// Get returns the payload if present and not expired; Set stores with a TTL.
// Entries for different signatures never interfere.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Clock abstracts time for TTL decisions so expiry is deterministic in tests.
type Clock func() time.Time

// InMemoryCache implements Cache with a mutex-guarded map and TTL expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu    sync.Mutex
	data  map[string]cacheEntry
	clock Clock
}

type cacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache using wall-clock time.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(time.Now)
}

// NewInMemoryCacheWithClock creates an in-memory cache with an injected clock.
func NewInMemoryCacheWithClock(clock Clock) *InMemoryCache {
	return &InMemoryCache{
		data:  make(map[string]cacheEntry),
		clock: clock,
	}
}

// Get returns (payload, true, nil) when the signature has a live entry and
// (nil, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if c.clock().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return entry.payload, true, nil
}

// Set stores a payload for the signature with the given TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		payload:   payload,
		expiresAt: c.clock().Add(ttl),
	}
	return nil
}
