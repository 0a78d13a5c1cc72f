package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webhook_queue/internal/metrics"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	c *redis.Client
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(addr, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{c: rdb}
}

// Ping checks connectivity so a bad REDIS_ADDR fails at startup.
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error { return r.c.Close() }

const (
	opGet    = "get"
	opSet    = "set"
	opDelete = "delete"
)

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()

	b, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveRedisRequest(opGet, time.Since(start), nil)
		return nil, false, nil
	}
	metrics.ObserveRedisRequest(opGet, time.Since(start), err)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := r.c.Set(ctx, key, value, ttl).Err()
	metrics.ObserveRedisRequest(opSet, time.Since(start), err)
	return err
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := r.c.Del(ctx, keys...).Err()
	metrics.ObserveRedisRequest(opDelete, time.Since(start), err)
	return err
}

func (r *RedisCache) RawClient() *redis.Client { return r.c }
