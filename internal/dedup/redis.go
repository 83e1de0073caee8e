package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares the hot tier between service instances.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) CheckAndSet(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	set, err := c.client.SetNX(ctx, c.prefix+":"+key, now.UnixMilli(), window).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// NewRedisClient connects and pings; it returns nil when addr is empty or the
// server does not answer, and callers fall back to MemoryCache.
func NewRedisClient(ctx context.Context, addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
