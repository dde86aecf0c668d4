package endpointcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisCacher is a Cacher backed by Redis so several server processes share
// resolved peer names. Keys are namespaced with a prefix. Lookups are
// idempotent, so concurrent fetches across processes are tolerated and only
// collapsed within this process.
type RedisCacher[T any] struct {
	client *redis.Client
	prefix string
	group  singleflight.Group
}

// NewRedisCacher creates a Redis-based cacher.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	names := NewRedisCacher[string](client, "framedsocket:peername:")
func NewRedisCacher[T any](client *redis.Client, prefix string) *RedisCacher[T] {
	return &RedisCacher[T]{client: client, prefix: prefix}
}

// GetOrFetch implements Cacher. Values are stored as JSON.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	fullKey := c.prefix + key

	val, err, _ := c.group.Do(fullKey, func() (interface{}, error) {
		raw, err := c.client.Get(ctx, fullKey).Result()
		if err == nil {
			var result T
			if err := json.Unmarshal([]byte(raw), &result); err != nil {
				return zero, fmt.Errorf("failed to unmarshal cached value: %w", err)
			}

			return result, nil
		}

		if !errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("redis get error: %w", err)
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		data, err := json.Marshal(fetched)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal result: %w", err)
		}

		if err := c.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
			return zero, fmt.Errorf("failed to cache result: %w", err)
		}

		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type in cache for key %s", key)
	}

	return typed, nil
}
