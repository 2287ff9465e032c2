package verify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/config"
)

// IdempotencyGuard suppresses repeated mints for the same key within a
// window. Claim reports true when the caller holds the key.
type IdempotencyGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

const guardKeyPrefix = "credverify:mint:"

// RedisGuard implements IdempotencyGuard with SET NX and a TTL.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard connects to cfg.RedisURL. It returns nil, nil when no URL is
// configured.
func NewRedisGuard(ctx context.Context, cfg config.IdempotencyConfig) (*RedisGuard, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, eris.Wrap(err, "verify: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "verify: redis ping")
	}

	ttl := time.Duration(cfg.TTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{client: client, ttl: ttl}, nil
}

// Claim implements IdempotencyGuard.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, guardKeyPrefix+key, "1", g.ttl).Result()
	return ok, eris.Wrap(err, "verify: redis claim")
}

// Release implements IdempotencyGuard.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return eris.Wrap(g.client.Del(ctx, guardKeyPrefix+key).Err(), "verify: redis release")
}

// Close closes the Redis connection.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
