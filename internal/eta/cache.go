package eta

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the estimator cache with a shared Redis instance so
// multiple service processes converge on the same per-customer figures.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (float64, bool, error) {
	value, err := c.client.Get(ctx, key).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value float64, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}
