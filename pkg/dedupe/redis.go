package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, for deployments that run more
// than one executor process against the same venue roster and need the
// notification throttle / rollback ledger shared across processes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed dedupe store. prefix namespaces keys
// so the store can share a Redis instance with unrelated consumers.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// MarkIfAbsent implements Store using SET NX EX, which is atomic: exactly
// one caller across all processes observes firstSeen=true for a given key
// within the TTL window.
func (r *RedisStore) MarkIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
