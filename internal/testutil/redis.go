package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Local test Redis listens on 56379; DB 0 is left to developers.
const defaultTestRedisURL = "redis://localhost:56379/1"

// SetupTestRedis connects to TEST_REDIS_URL (or REDIS_ADDR in CI), flushes the selected
// DB and closes the client when t finishes. Tests skip when Redis is unreachable unless
// TEST_REQUIRE_REDIS or TEST_REQUIRE_INFRA is set.
func SetupTestRedis(t testing.TB) *redis.Client {
	t.Helper()

	opts, err := redis.ParseURL(testRedisURL())
	if err != nil {
		t.Fatalf("parse test redis url: %v", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") {
			t.Fatalf("redis not available at %s: %v", opts.Addr, err)
		}
		t.Skipf("redis not available at %s: %v", opts.Addr, err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test redis db %d: %v", opts.DB, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testRedisURL() string {
	if raw := strings.TrimSpace(os.Getenv("TEST_REDIS_URL")); raw != "" {
		return raw
	}
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		return "redis://" + addr + "/1"
	}
	return defaultTestRedisURL
}
