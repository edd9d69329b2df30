package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPool reads pooled accounts from a Redis hash per platform. Each field
// holds a JSON account record; records without a token are skipped. Account
// maintenance (registration, refresh) happens out of band.
type RedisPool struct {
	client *redis.Client
}

type pooledAccount struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

func NewRedisPool(redisURL string) (*RedisPool, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPool{client: client}, nil
}

func poolKey(platformID string) string {
	return "accounts:" + platformID
}

func (p *RedisPool) Tokens(ctx context.Context, platformID string) ([]string, error) {
	entries, err := p.client.HGetAll(ctx, poolKey(platformID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read token pool: %w", err)
	}

	tokens := make([]string, 0, len(entries))
	for _, raw := range entries {
		var acct pooledAccount
		if err := json.Unmarshal([]byte(raw), &acct); err != nil {
			continue
		}
		if acct.Token != "" {
			tokens = append(tokens, acct.Token)
		}
	}
	return tokens, nil
}

// Client exposes the underlying connection so other components (the shared
// response cache) can reuse it instead of dialing twice.
func (p *RedisPool) Client() *redis.Client {
	return p.client
}

func (p *RedisPool) Close() error {
	return p.client.Close()
}
