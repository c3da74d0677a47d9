package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// replaySetScript atomically checks-and-sets a nonce key with a TTL, so two
// validator instances racing on the same nonce can never both observe
// "not seen" — the same atomicity guarantee the teacher's Lua token-bucket
// script gives the rate limiter, applied here to a dedup set instead of a
// bucket.
//
// KEYS[1] = nonce key ("caracal:replay:<nonce>")
// ARGV[1] = window in seconds (used as the key's TTL)
var replaySetScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])

if redis.call("EXISTS", key) == 1 then
    return 1
end

redis.call("SET", key, 1, "EX", ttl)
return 0
`)

// RedisCache is the cross-instance replay cache (§4.2 step 3: "shared
// across validator instances"), backing the nonce set in Redis instead of
// per-process memory so every gateway instance behind a load balancer
// shares one dedup window.
type RedisCache struct {
	client *redis.Client
	window time.Duration
}

// NewRedisCache wraps an existing client. The caller owns the client's
// lifecycle (address/auth/TLS config), mirroring the teacher's
// RedisLimiterStore constructor shape.
func NewRedisCache(client *redis.Client, window time.Duration) *RedisCache {
	return &RedisCache{client: client, window: window}
}

// CheckAndRemember implements validator.ReplayCache.
func (c *RedisCache) CheckAndRemember(ctx context.Context, nonce string, _ int64) (bool, error) {
	key := fmt.Sprintf("caracal:replay:%s", nonce)
	ttl := int64(c.window / time.Second)
	if ttl <= 0 {
		ttl = 1
	}

	res, err := replaySetScript.Run(ctx, c.client, []string{key}, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("replay: redis check-and-set: %w", err)
	}
	return res == 1, nil
}
