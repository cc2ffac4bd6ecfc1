package repository

import (
	"context"
	"errors"
	"time"

	"messagingService/pkg/api"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements api.ProfileCache on top of a go-redis client.
type RedisCache struct {
	client *redis.Client
}

var _ api.ProfileCache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", api.ErrCacheMiss
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}
