package replay

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheDetectsReplayedNonceWithinWindow(t *testing.T) {
	c := NewLRUCache(time.Minute, 100)
	ctx := context.Background()

	seen, err := c.CheckAndRemember(ctx, "n1", 1000)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = c.CheckAndRemember(ctx, "n1", 1000)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestLRUCacheForgetsNonceAfterWindowElapses(t *testing.T) {
	c := NewLRUCache(time.Minute, 100)
	start := time.Now()
	c.now = func() time.Time { return start }

	seen, err := c.CheckAndRemember(context.Background(), "n1", 1000)
	require.NoError(t, err)
	require.False(t, seen)

	c.now = func() time.Time { return start.Add(2 * time.Minute) }
	seen, err = c.CheckAndRemember(context.Background(), "n1", 1000)
	require.NoError(t, err)
	require.False(t, seen, "nonce outside the window must not read as replayed")
}

func TestLRUCacheEvictsOldestPastCapacity(t *testing.T) {
	c := NewLRUCache(time.Hour, 2)
	ctx := context.Background()

	_, err := c.CheckAndRemember(ctx, "n1", 1000)
	require.NoError(t, err)
	_, err = c.CheckAndRemember(ctx, "n2", 1000)
	require.NoError(t, err)
	_, err = c.CheckAndRemember(ctx, "n3", 1000)
	require.NoError(t, err)

	// n1 was evicted to make room for n3, so it reads as fresh again.
	seen, err := c.CheckAndRemember(ctx, "n1", 1000)
	require.NoError(t, err)
	require.False(t, seen)
}

// TestRedisCacheIntegration requires a running Redis; skipped otherwise,
// following the teacher's limiter_redis_test.go connect-or-skip shape.
func TestRedisCacheIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("skipping redis integration test: redis not available")
	}
	defer func() { _ = client.Close() }()

	c := NewRedisCache(client, time.Second)

	seen, err := c.CheckAndRemember(ctx, "integration-nonce", 1000)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = c.CheckAndRemember(ctx, "integration-nonce", 1000)
	require.NoError(t, err)
	require.True(t, seen)

	time.Sleep(1100 * time.Millisecond)
	seen, err = c.CheckAndRemember(ctx, "integration-nonce", 1000)
	require.NoError(t, err)
	require.False(t, seen, "nonce must be forgotten once its TTL elapses")
}
