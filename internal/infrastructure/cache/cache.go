package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
)

// AssetCache defines the interface for caching asset metadata.
// Implementations should handle serialization/deserialization transparently.
type AssetCache interface {
	// Get retrieves an asset from cache by ID.
	// Returns nil, nil if the asset is not found in cache (cache miss).
	Get(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)

	// Set stores an asset in cache with the specified TTL.
	Set(ctx context.Context, asset *model.Asset, ttl time.Duration) error

	// Delete removes an asset from cache by ID.
	// Returns nil if the asset was not in cache.
	Delete(ctx context.Context, assetID uuid.UUID) error
}

// ManifestCache stores rendered playlist text per asset.
// An empty resolution addresses the master playlist.
type ManifestCache interface {
	// Get returns the cached text and whether it was present.
	Get(ctx context.Context, assetID uuid.UUID, resolution string) (string, bool, error)

	// Set stores playlist text with the specified TTL.
	Set(ctx context.Context, assetID uuid.UUID, resolution, text string, ttl time.Duration) error

	// Invalidate drops every cached playlist of an asset.
	Invalidate(ctx context.Context, assetID uuid.UUID) error
}
