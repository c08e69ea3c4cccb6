package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// RedisPersister keeps snapshots in Redis under "<namespace>:snapshot:<key>".
type RedisPersister struct {
	redis     *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisPersister creates a persister using client. A zero ttl keeps
// snapshots until they are overwritten.
func NewRedisPersister(client *redis.Client, namespace string, ttl time.Duration) *RedisPersister {
	if client == nil {
		panic("cache.NewRedisPersister: redis client is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisPersister{redis: client, namespace: namespace, ttl: ttl}
}

func (p *RedisPersister) Save(ctx context.Context, key Key, rec Record) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	return p.redis.Set(ctx, p.redisKey(key), data, p.ttl).Err()
}

func (p *RedisPersister) Load(ctx context.Context, key Key) (Record, bool, error) {
	data, err := p.redis.Get(ctx, p.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var rec Record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		// A corrupt entry is dropped and treated as a miss.
		_ = p.redis.Del(ctx, p.redisKey(key)).Err()
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (p *RedisPersister) redisKey(key Key) string {
	if p.namespace == "" {
		return "snapshot:" + string(key)
	}
	return p.namespace + ":snapshot:" + string(key)
}
