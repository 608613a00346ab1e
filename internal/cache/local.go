package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultLocalTTL is applied when Set is called with a zero TTL.
const DefaultLocalTTL = 5 * time.Minute

// LocalCache implements Cache with an in-process map. Suitable for
// single-instance deployments and tests. Expired entries are dropped lazily
// on access.
type LocalCache struct {
	mu      sync.RWMutex
	entries map[string]localEntry

	// now is replaceable for tests.
	now func() time.Time
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewLocalCache creates an empty in-memory cache.
func NewLocalCache() *LocalCache {
	return &LocalCache{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

// Get retrieves a value, reporting a miss for absent or expired keys.
func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores a copy of value under key.
func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultLocalTTL
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	c.mu.Lock()
	c.entries[key] = localEntry{value: buf, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Close is a no-op for the local cache.
func (c *LocalCache) Close() error { return nil }
