package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var _ KV = (*Redis)(nil)

// Redis is the shared status cache for multi-node deployments.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // No password set
		DB:       0,  // Use default DB
		Protocol: 2,  // Connection protocol
	})

	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, k string) ([]byte, error) {
	value, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

func (r *Redis) Set(ctx context.Context, k string, v []byte, ttl time.Duration) error {
	return r.client.Set(ctx, k, v, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, k string) error {
	return r.client.Del(ctx, k).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
