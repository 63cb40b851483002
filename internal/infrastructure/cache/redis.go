package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediapool/internal/domain/model"
)

const (
	// assetCacheKeyPrefix is the prefix for asset cache keys in Redis.
	assetCacheKeyPrefix = "asset:"
)

// assetJSON is the JSON representation of an Asset for caching.
// Using explicit struct avoids coupling to domain model's JSON tags.
type assetJSON struct {
	ID         string            `json:"id"`
	Identifier string            `json:"identifier"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Size       int64             `json:"size"`
	MediaType  string            `json:"media_type"`
	Status     string            `json:"status"`
	FolderTag  string            `json:"folder_tag,omitempty"`
	Primary    model.BlobRef     `json:"primary"`
	Thumbnail  model.BlobRef     `json:"thumbnail"`
	LastError  string            `json:"last_error,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

// RedisAssetCache implements AssetCache using Redis as the backing store.
type RedisAssetCache struct {
	client *redis.Client
}

// NewRedisAssetCache creates a new Redis-backed asset cache.
func NewRedisAssetCache(client *redis.Client) *RedisAssetCache {
	return &RedisAssetCache{
		client: client,
	}
}

// Get retrieves an asset from Redis cache.
// Returns nil, nil on cache miss.
func (c *RedisAssetCache) Get(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	data, err := c.client.Get(ctx, c.buildKey(assetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	asset, err := c.deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize asset: %w", err)
	}

	return asset, nil
}

// Set stores an asset in Redis cache with the specified TTL.
func (c *RedisAssetCache) Set(ctx context.Context, asset *model.Asset, ttl time.Duration) error {
	data, err := c.serialize(asset)
	if err != nil {
		return fmt.Errorf("serialize asset: %w", err)
	}

	if err := c.client.Set(ctx, c.buildKey(asset.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes an asset from Redis cache.
func (c *RedisAssetCache) Delete(ctx context.Context, assetID uuid.UUID) error {
	if err := c.client.Del(ctx, c.buildKey(assetID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// buildKey constructs the Redis key for an asset.
func (c *RedisAssetCache) buildKey(assetID uuid.UUID) string {
	return assetCacheKeyPrefix + assetID.String()
}

// serialize converts an Asset to JSON bytes.
func (c *RedisAssetCache) serialize(asset *model.Asset) ([]byte, error) {
	v := assetJSON{
		ID:         asset.ID.String(),
		Identifier: asset.Identifier,
		Name:       asset.Name,
		Category:   string(asset.Category),
		Size:       asset.Size,
		MediaType:  asset.MediaType,
		Status:     string(asset.Status),
		FolderTag:  asset.FolderTag,
		Primary:    asset.Primary,
		Thumbnail:  asset.Thumbnail,
		LastError:  asset.LastError,
		Extra:      asset.Extra,
		CreatedAt:  asset.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  asset.UpdatedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(v)
}

// deserialize converts JSON bytes to an Asset.
func (c *RedisAssetCache) deserialize(data []byte) (*model.Asset, error) {
	var v assetJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(v.ID)
	if err != nil {
		return nil, fmt.Errorf("parse asset ID: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &model.Asset{
		ID:         id,
		Identifier: v.Identifier,
		Name:       v.Name,
		Category:   model.Category(v.Category),
		Size:       v.Size,
		MediaType:  v.MediaType,
		Status:     model.AssetStatus(v.Status),
		FolderTag:  v.FolderTag,
		Primary:    v.Primary,
		Thumbnail:  v.Thumbnail,
		LastError:  v.LastError,
		Extra:      v.Extra,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

// Compile-time verification that RedisAssetCache implements AssetCache.
var _ AssetCache = (*RedisAssetCache)(nil)
