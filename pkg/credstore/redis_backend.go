package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys when no prefix is supplied.
const DefaultRedisPrefix = "portal:session:"

// RedisBackend stores entries as plain Redis strings under a key prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a Redis-based backend. Prefix may be empty.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (backend *RedisBackend) key(name string) string {
	return backend.prefix + name
}

// Get reads a single key.
func (backend *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := backend.client.Get(ctx, backend.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("credstore.redis.get: %w", err)
	}
	return value, nil
}

// SetMany writes all entries inside MULTI/EXEC.
func (backend *RedisBackend) SetMany(ctx context.Context, entries map[string][]byte) error {
	_, err := backend.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range entries {
			pipe.Set(ctx, backend.key(key), value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("credstore.redis.set: %w", err)
	}
	return nil
}

// Delete removes keys.
func (backend *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, backend.key(key))
	}
	if err := backend.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("credstore.redis.delete: %w", err)
	}
	return nil
}

// Close releases the client connection pool.
func (backend *RedisBackend) Close() error {
	return backend.client.Close()
}
