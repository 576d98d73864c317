package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/reclaim/internal/core"
)

var errEmptyKey = errors.New("key cannot be empty")

// minLockTTL is used by SetIfNotExists when no TTL is given, so a crashed holder cannot
// keep a key forever.
const minLockTTL = time.Second

// RedisCacheOptions configures a RedisCacheRepo.
type RedisCacheOptions struct {
	// Prefix is prepended to every key, e.g. "reclaim:".
	Prefix string
}

// RedisCacheRepo is the Redis backed core.CacheRepository. It backs the dependent count
// cache and the reaper's single-runner lock.
type RedisCacheRepo struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ core.CacheRepository = (*RedisCacheRepo)(nil)

// NewRedisCacheRepo wraps rdb.
func NewRedisCacheRepo(rdb redis.UniversalClient, opts RedisCacheOptions) *RedisCacheRepo {
	return &RedisCacheRepo{rdb: rdb, prefix: opts.Prefix}
}

func (r *RedisCacheRepo) fullKey(key string) (string, error) {
	if key == "" {
		return "", errEmptyKey
	}
	return r.prefix + key, nil
}

// Set writes value under key. ttl 0 keeps the key until it is deleted.
func (r *RedisCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, err := r.fullKey(key)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, k, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Get reads key. A missing or expired key is (nil, nil).
func (r *RedisCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := r.fullKey(key)
	if err != nil {
		return nil, err
	}
	v, err := r.rdb.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return v, nil
}

// Delete drops key and reports whether it was present.
func (r *RedisCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	k, err := r.fullKey(key)
	if err != nil {
		return false, err
	}
	removed, err := r.rdb.Del(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("cache delete %s: %w", key, err)
	}
	return removed == 1, nil
}

// SetIfNotExists writes key only when it is absent. The write and its expiry are one
// command, so a key set here always expires.
func (r *RedisCacheRepo) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	k, err := r.fullKey(key)
	if err != nil {
		return false, err
	}
	ok, err := r.rdb.SetNX(ctx, k, value, max(ttl, minLockTTL)).Result()
	if err != nil {
		return false, fmt.Errorf("cache setnx %s: %w", key, err)
	}
	return ok, nil
}

// Health round-trips a PING.
func (r *RedisCacheRepo) Health(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
