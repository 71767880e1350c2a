// Package cache stores JSON-encoded values in Redis with a TTL. It fronts
// read-mostly collections (external content, passion profiles) so repeated
// requests do not hit the document store.
//
//	Key:   cache:<name>
//	Value: JSON document
//	TTL:   per-call or the cache default
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/socio/backend/internal/config"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "cache:"

// Cache reads and writes JSON values in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect opens a Redis client and verifies it with a ping. The client is
// shared by the cache, the rate limiter and the mute store.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis connection failed: %w", err)
	}
	return client, nil
}

// New creates a Cache whose Set calls expire after ttl unless overridden.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get decodes the value at name into out. It reports false, with a nil
// error, on a miss.
func (c *Cache) Get(ctx context.Context, name string, out any) (bool, error) {
	raw, err := c.client.Get(ctx, KeyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// A value we cannot decode is as good as a miss.
		c.client.Del(ctx, KeyPrefix+name)
		return false, nil
	}
	return true, nil
}

// Set stores v at name with the default TTL.
func (c *Cache) Set(ctx context.Context, name string, v any) error {
	return c.SetTTL(ctx, name, v, c.ttl)
}

// SetTTL stores v at name with an explicit TTL.
func (c *Cache) SetTTL(ctx context.Context, name string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", name, err)
	}
	if err := c.client.Set(ctx, KeyPrefix+name, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", name, err)
	}
	return nil
}

// Invalidate drops the value at name.
func (c *Cache) Invalidate(ctx context.Context, name string) error {
	if err := c.client.Del(ctx, KeyPrefix+name).Err(); err != nil {
		return fmt.Errorf("cache: invalidate %s: %w", name, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
