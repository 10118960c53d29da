package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix   = "storefront"
	connectTimeout     = 5 * time.Second
	keyPrefixDelimiter = ":"
)

// RedisConfig holds the connection settings for a Redis-backed cache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisCache is a Cache backed by a shared Redis instance. All keys are
// namespaced under the configured prefix so several services can share
// one database.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(config RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix}, nil
}

func (cache *RedisCache) prefixed(key string) string {
	return cache.keyPrefix + keyPrefixDelimiter + key
}

func (cache *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := cache.client.Get(ctx, cache.prefixed(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (cache *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return cache.client.Set(ctx, cache.prefixed(key), value, ttl).Err()
}

func (cache *RedisCache) Delete(ctx context.Context, key string) error {
	return cache.client.Del(ctx, cache.prefixed(key)).Err()
}

func (cache *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := cache.client.Exists(ctx, cache.prefixed(key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (cache *RedisCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	if value, err := cache.Get(ctx, key); err == nil {
		return value, nil
	}

	value, err := fn()
	if err != nil {
		return nil, err
	}
	_ = cache.Set(ctx, key, value, ttl)
	return value, nil
}

// Clear removes every key under this cache's prefix, leaving the rest of
// the database alone.
func (cache *RedisCache) Clear(ctx context.Context) error {
	iter := cache.client.Scan(ctx, 0, cache.keyPrefix+keyPrefixDelimiter+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return cache.client.Del(ctx, keys...).Err()
}

// Close releases the underlying Redis connection pool.
func (cache *RedisCache) Close() error {
	return cache.client.Close()
}
