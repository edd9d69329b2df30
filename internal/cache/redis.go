package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares the response cache across replicas. Failures degrade to
// cache misses; the cache is an optimization, never a dependency.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// redisKey hashes the logical key so message text never lands in Redis keys.
func redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "cache:response:" + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("redis cache read failed", "error", err)
		}
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key, content string) {
	if err := c.client.Set(ctx, redisKey(key), content, c.ttl).Err(); err != nil {
		slog.Warn("redis cache write failed", "error", err)
	}
}
