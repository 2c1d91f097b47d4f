package strategy

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache is a concurrency-safe keyed cache whose population is deduplicated:
// concurrent GetOrCreate calls for one key run create once and share the
// result. Failed creations are not cached.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
	group   singleflight.Group
}

// NewCache returns an empty cache.
func NewCache[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]V)}
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// GetOrCreate returns the cached value for key, calling create to populate
// it on a miss. created reports whether this call stored a new value.
func (c *Cache[V]) GetOrCreate(ctx context.Context, key string, create func(context.Context) (V, error)) (v V, created bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, false, nil
	}

	type result struct {
		v       V
		created bool
	}
	res, err, shared := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return result{v: v}, nil
		}
		v, err := create(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = v
		c.mu.Unlock()
		return result{v: v, created: true}, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	r := res.(result)
	return r.v, r.created && !shared, nil
}

// Remove deletes key and returns the removed value. Removing a missing key
// is not an error.
func (c *Cache[V]) Remove(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	delete(c.entries, key)
	return v, ok
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the cached keys in no particular order.
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}
