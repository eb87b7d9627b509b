package pipeline

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DuplicateCache remembers identity hashes of narrated orders for a fixed
// time-to-live. Reads do not extend an entry's lifetime. When full, the
// oldest entry is evicted.
type DuplicateCache struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewDuplicateCache creates a cache holding at most capacity entries for ttl.
// A capacity of zero means unbounded.
func NewDuplicateCache(ttl time.Duration, capacity int) *DuplicateCache {
	opts := []ttlcache.Option[string, struct{}]{
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, struct{}](uint64(capacity)))
	}
	return &DuplicateCache{cache: ttlcache.New(opts...)}
}

// Contains reports whether key is present and unexpired.
func (c *DuplicateCache) Contains(key string) bool {
	return c.cache.Has(key)
}

// Add inserts key unless it is already present, so an existing entry keeps
// its original expiry. It reports whether the key was inserted.
func (c *DuplicateCache) Add(key string) bool {
	if c.cache.Has(key) {
		return false
	}
	c.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return true
}

// Len returns the number of unexpired entries.
func (c *DuplicateCache) Len() int {
	c.cache.DeleteExpired()
	return c.cache.Len()
}
