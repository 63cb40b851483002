package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	manifestCacheKeyPrefix = "manifest:"
	masterManifestKey      = "master"
)

// RedisManifestCache implements ManifestCache using Redis.
// Keys are manifest:<assetId>:<resolution>, with "master" for the master playlist.
type RedisManifestCache struct {
	client *redis.Client
}

// NewRedisManifestCache creates a new Redis-backed manifest cache.
func NewRedisManifestCache(client *redis.Client) *RedisManifestCache {
	return &RedisManifestCache{client: client}
}

// Get returns cached playlist text. A miss is ("", false, nil).
func (c *RedisManifestCache) Get(ctx context.Context, assetID uuid.UUID, resolution string) (string, bool, error) {
	text, err := c.client.Get(ctx, c.buildKey(assetID, resolution)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return text, true, nil
}

// Set stores playlist text.
func (c *RedisManifestCache) Set(ctx context.Context, assetID uuid.UUID, resolution, text string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.buildKey(assetID, resolution), text, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate deletes every playlist cached for the asset.
func (c *RedisManifestCache) Invalidate(ctx context.Context, assetID uuid.UUID) error {
	pattern := manifestCacheKeyPrefix + assetID.String() + ":*"

	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *RedisManifestCache) buildKey(assetID uuid.UUID, resolution string) string {
	if resolution == "" {
		resolution = masterManifestKey
	}
	return manifestCacheKeyPrefix + assetID.String() + ":" + resolution
}

// Compile-time verification that RedisManifestCache implements ManifestCache.
var _ ManifestCache = (*RedisManifestCache)(nil)
