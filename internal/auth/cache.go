package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a TTL-based in-memory credential cache with
// stale-while-revalidate. Reads are lock-free on the hot path.
type Cache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	principal  *Principal
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheGetResult holds the result of a cache lookup.
type CacheGetResult struct {
	Principal    *Principal
	Hit          bool
	NeedsRefresh bool
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get performs a non-blocking lookup. An expired entry is still served,
// with NeedsRefresh set for exactly one caller.
func (c *Cache) Get(apiKey string) CacheGetResult {
	val, ok := c.store.Load(apiKey)
	if !ok {
		return CacheGetResult{Hit: false}
	}

	entry := val.(*cacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return CacheGetResult{Principal: entry.principal, Hit: true}
	}

	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return CacheGetResult{
		Principal:    entry.principal,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a principal with a fresh TTL.
func (c *Cache) Set(apiKey string, principal *Principal) {
	c.store.Store(apiKey, &cacheEntry{
		principal: principal,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *Cache) Delete(apiKey string) {
	c.store.Delete(apiKey)
}
