package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "doc:"

// RedisCache backs the Cache interface with a shared Redis instance so
// multiple server processes observe the same volatile content.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (rc *RedisCache) Get(ctx context.Context, docID string) (string, bool, error) {
	// GETEX extends the TTL as part of the read.
	content, err := rc.rdb.GetEx(ctx, redisKeyPrefix+docID, rc.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return content, true, nil
}

func (rc *RedisCache) SetWithTTL(ctx context.Context, docID, content string) error {
	if err := rc.rdb.Set(ctx, redisKeyPrefix+docID, content, rc.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
