package core

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// CacheRepository defines the interface for caching operations.
// The core defines the port; the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// DependentKey identifies one parent's children through one association.
type DependentKey struct {
	ParentType  string
	ParentID    string
	Association string
}

// DependentCountCache stores dependent counts taken from the entity store.
type DependentCountCache struct {
	cache CacheRepository
	ttl   time.Duration
}

// DependentCountCacheOptions bundles dependencies for NewDependentCountCache.
type DependentCountCacheOptions struct {
	Cache CacheRepository
	TTL   time.Duration
}

// DefaultDependentCountTTL bounds how stale a cached count may be.
const DefaultDependentCountTTL = 30 * time.Second

// NewDependentCountCache creates a DependentCountCache.
func NewDependentCountCache(opts DependentCountCacheOptions) *DependentCountCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultDependentCountTTL
	}
	return &DependentCountCache{cache: opts.Cache, ttl: ttl}
}

// Get returns the cached count. ok is false on a miss or an unreadable value.
func (c *DependentCountCache) Get(ctx context.Context, key DependentKey) (int, bool, error) {
	raw, err := c.cache.Get(ctx, c.key(key))
	if err != nil || raw == nil {
		return 0, false, err
	}
	n, convErr := strconv.Atoi(string(raw))
	if convErr != nil || n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

// Set caches an authoritative count.
func (c *DependentCountCache) Set(ctx context.Context, key DependentKey, count int) error {
	return c.cache.Set(ctx, c.key(key), []byte(strconv.Itoa(count)), c.ttl)
}

// Invalidate drops the cached count. Call it whenever a child is created or destroyed.
func (c *DependentCountCache) Invalidate(ctx context.Context, key DependentKey) error {
	if key.ParentID == "" {
		return nil
	}
	_, err := c.cache.Delete(ctx, c.key(key))
	return err
}

func (c *DependentCountCache) key(k DependentKey) string {
	return strings.Join([]string{"dependents", "count", k.ParentType, k.ParentID, k.Association}, ":")
}
