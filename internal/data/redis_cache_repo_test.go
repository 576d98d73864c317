package data

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/testutil"
)

func TestRedisCacheRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	rdb := testutil.SetupTestRedis(t)
	cache := NewRedisCacheRepo(rdb, RedisCacheOptions{Prefix: "reclaim:"})
	ctx := context.Background()

	t.Run("keys are prefixed and expire", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "greeting", []byte("hello"), time.Minute))

		v, err := cache.Get(ctx, "greeting")
		require.NoError(t, err)
		assert.Equal(t, "hello", string(v))

		raw, err := rdb.Get(ctx, "reclaim:greeting").Result()
		require.NoError(t, err)
		assert.Equal(t, "hello", raw)

		ttl := rdb.TTL(ctx, "reclaim:greeting").Val()
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute)
	})

	t.Run("miss is nil without error", func(t *testing.T) {
		v, err := cache.Get(ctx, "absent")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("delete reports presence", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "doomed", []byte("1"), 0))
		for _, want := range []bool{true, false} {
			removed, err := cache.Delete(ctx, "doomed")
			require.NoError(t, err)
			assert.Equal(t, want, removed)
		}
	})

	t.Run("setnx keeps the first writer", func(t *testing.T) {
		first, err := cache.SetIfNotExists(ctx, "reaper:lock", []byte("host-a"), time.Minute)
		require.NoError(t, err)
		second, err := cache.SetIfNotExists(ctx, "reaper:lock", []byte("host-b"), time.Minute)
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)

		holder, err := cache.Get(ctx, "reaper:lock")
		require.NoError(t, err)
		assert.Equal(t, "host-a", string(holder))
	})

	t.Run("setnx without ttl still expires", func(t *testing.T) {
		ok, err := cache.SetIfNotExists(ctx, "no-ttl", []byte("x"), 0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Greater(t, rdb.TTL(ctx, "reclaim:no-ttl").Val(), time.Duration(0))
	})

	t.Run("dependent counts", func(t *testing.T) {
		counts := core.NewDependentCountCache(core.DependentCountCacheOptions{Cache: cache, TTL: time.Minute})
		key := core.DependentKey{ParentType: "server", ParentID: "s1", Association: "volumes"}

		require.NoError(t, counts.Set(ctx, key, 3))
		n, hit, err := counts.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, 3, n)

		require.NoError(t, counts.Invalidate(ctx, key))
		_, hit, err = counts.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, cache.Health(ctx))
	})
}

func TestRedisCacheRepo_RejectsEmptyKey(t *testing.T) {
	// Nothing listens here; the key check fails before a command is sent.
	cache := NewRedisCacheRepo(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), RedisCacheOptions{})
	ctx := context.Background()

	assert.ErrorIs(t, cache.Set(ctx, "", nil, time.Minute), errEmptyKey)
	_, err := cache.Get(ctx, "")
	assert.ErrorIs(t, err, errEmptyKey)
	_, err = cache.Delete(ctx, "")
	assert.ErrorIs(t, err, errEmptyKey)
	_, err = cache.SetIfNotExists(ctx, "", nil, time.Minute)
	assert.ErrorIs(t, err, errEmptyKey)
}
