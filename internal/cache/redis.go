package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "appointly"
	scanBatch          = 256
)

// RedisBackend shares entries across server instances. Keys are namespaced
// under prefix so several deployments can share one Redis.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + ":" + k
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisBackend) Version(ctx context.Context, key string) (int64, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *RedisBackend) Bump(ctx context.Context, key string) (int64, error) {
	return r.rdb.Incr(ctx, r.key(key)).Result()
}

func (r *RedisBackend) Count(ctx context.Context, prefix string) (int, error) {
	n := 0
	iter := r.rdb.Scan(ctx, 0, r.key(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}
