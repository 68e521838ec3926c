package fwdproxy

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisBackend is an opt-in CacheBackend, grounded on the teacher's
// cache-redis.go redisBackend: a thin context-timeout wrapper around a
// *redis.Client. Unlike the mandatory MemoryBackend it stores entries
// with a TTL, since a shared cache across multiple proxy processes
// benefits from eventually forgetting stale records even though the
// spec's default backend never does.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisBackendOptions configures a RedisBackend. TTL defaults to one
// hour when zero.
type RedisBackendOptions struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedisBackend(opt RedisBackendOptions) *RedisBackend {
	ttl := opt.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{
			Addr:     opt.Address,
			Password: opt.Password,
			DB:       opt.DB,
		}),
		ttl: ttl,
	}
}

func (b *RedisBackend) Lookup(host string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ip, err := b.client.Get(ctx, redisCacheKey(host)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			Log.WithField("host", host).WithError(err).Warn("redis cache lookup failed")
		}
		return "", false
	}
	return ip, true
}

func (b *RedisBackend) Store(host, ip string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.client.Set(ctx, redisCacheKey(host), ip, b.ttl).Err(); err != nil {
		Log.WithField("host", host).WithError(err).Warn("redis cache store failed")
	}
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func redisCacheKey(host string) string {
	return "fwdproxy:resolve:" + host
}
