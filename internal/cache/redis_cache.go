package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisFlagCache struct {
	client *redis.Client
}

func NewRedisFlagCache(addr string, password string, db int) *RedisFlagCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisFlagCache{client: client}
}

func (c *RedisFlagCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisFlagCache) Close() error {
	return c.client.Close()
}

func (c *RedisFlagCache) Get(ctx context.Context, key string) (bool, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (c *RedisFlagCache) Set(ctx context.Context, key string, value bool, ttl time.Duration) error {
	payload := "0"
	if value {
		payload = "1"
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisFlagCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
