package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokoledger/backend/internal/domain"
)

// RedisOutstandingCache shares balance listings across the terminals of one
// shop when they sit on the same LAN.
type RedisOutstandingCache struct {
	client *redis.Client
}

func NewRedisOutstandingCache(addr string, password string, db int) *RedisOutstandingCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisOutstandingCache{client: client}
}

func (c *RedisOutstandingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisOutstandingCache) Close() error {
	return c.client.Close()
}

func (c *RedisOutstandingCache) Get(ctx context.Context, key string) ([]domain.Sale, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sales []domain.Sale
	if err := json.Unmarshal([]byte(val), &sales); err != nil {
		return nil, false, err
	}
	return sales, true, nil
}

func (c *RedisOutstandingCache) Set(ctx context.Context, key string, value []domain.Sale, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisOutstandingCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
