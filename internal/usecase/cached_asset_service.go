package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/infrastructure/cache"
	"github.com/hszk-dev/mediapool/internal/infrastructure/metrics"
)

// CachedAssetServiceConfig holds configuration for CachedAssetService.
type CachedAssetServiceConfig struct {
	// CacheTTL is the TTL for cached asset metadata.
	CacheTTL time.Duration
}

// DefaultCachedAssetServiceConfig returns the default configuration.
func DefaultCachedAssetServiceConfig() CachedAssetServiceConfig {
	return CachedAssetServiceConfig{
		CacheTTL: 5 * time.Minute,
	}
}

// cachedAssetService wraps AssetService with caching capabilities.
// Writers invalidate entries through the shared AssetCache.
type cachedAssetService struct {
	delegate AssetService
	cache    cache.AssetCache
	sfGroup  singleflight.Group

	cacheTTL time.Duration
}

// NewCachedAssetService creates a new caching AssetService wrapping delegate.
func NewCachedAssetService(
	delegate AssetService,
	assetCache cache.AssetCache,
	cfg CachedAssetServiceConfig,
) AssetService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCachedAssetServiceConfig().CacheTTL
	}
	return &cachedAssetService{
		delegate: delegate,
		cache:    assetCache,
		cacheTTL: cfg.CacheTTL,
	}
}

// GetAsset retrieves an asset with caching.
// Uses singleflight to prevent cache stampede on concurrent requests for the same asset.
func (s *cachedAssetService) GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	result, err, shared := s.sfGroup.Do(assetID.String(), func() (any, error) {
		return s.getAssetWithCache(ctx, assetID)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}

	// Callers get their own copy so cached data is never mutated.
	asset := *result.(*model.Asset)
	return &asset, nil
}

// getAssetWithCache implements the cache-aside pattern.
func (s *cachedAssetService) getAssetWithCache(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	asset, err := s.cache.Get(ctx, assetID)
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		slog.Warn("cache get failed, falling back to database",
			"asset_id", assetID,
			"error", err,
		)
	}

	if asset != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()
		return asset, nil
	}
	if err == nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRedis).Inc()
	}

	asset, err = s.delegate.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	// Assets still moving through the pipeline change often; cache them
	// for a shorter time.
	ttl := s.cacheTTL
	if asset.Status == model.AssetStatusProcessing {
		ttl = min(ttl, 30*time.Second)
	}
	if err := s.cache.Set(ctx, asset, ttl); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		slog.Warn("failed to cache asset",
			"asset_id", assetID,
			"error", err,
		)
	}

	return asset, nil
}
