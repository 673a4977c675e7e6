// Package cache stores merged top-hits results in Redis.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"turbo-tophits/internal/hits"
	"turbo-tophits/internal/wire"
)

// ErrMiss is returned when no result is cached under a key.
var ErrMiss = errors.New("cache: miss")

const keyPrefix = "tophits:"

// Cache holds wire-encoded merged results with a fixed TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached result for key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (*hits.MergedResult, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	m, err := wire.DecodeMerged(data)
	if err != nil {
		// stale or foreign value, drop it
		_ = c.client.Del(ctx, key).Err()
		return nil, err
	}
	return m, nil
}

func (c *Cache) Set(ctx context.Context, key string, m *hits.MergedResult) error {
	data, err := wire.EncodeMerged(m)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Key hashes the request parts into a fixed-size cache key.
func Key(parts ...string) string {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(strconv.Itoa(len(p)))
		_, _ = d.WriteString(":")
		_, _ = d.WriteString(p)
	}
	return keyPrefix + strconv.FormatUint(d.Sum64(), 16)
}
