package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingClaim = "-"

// RedisDeduper stores idempotency keys of create requests in Redis so every
// instance answers a repeated request with the id created by the first one.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

func (r *RedisDeduper) Claim(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), pendingClaim, r.ttl).Result()
}

func (r *RedisDeduper) Lookup(ctx context.Context, userID, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(userID, key)).Result()
	if errors.Is(err, redis.Nil) || v == pendingClaim {
		return "", nil
	}
	return v, err
}

func (r *RedisDeduper) Complete(ctx context.Context, userID, key, id string) error {
	return r.client.Set(ctx, r.key(userID, key), id, r.ttl).Err()
}

func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
