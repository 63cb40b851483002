package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
	"github.com/hszk-dev/mediapool/internal/infrastructure/cache"
	"github.com/hszk-dev/mediapool/internal/infrastructure/metrics"
)

// SegmentCache is the local disk cache segments are served from.
type SegmentCache interface {
	// Path returns where the entry for remoteID lives, present or not.
	Path(remoteID string) string
	// Lookup returns the entry path if it is present and fresh.
	Lookup(remoteID string) (string, bool)
}

// StreamServiceConfig holds configuration for StreamService.
type StreamServiceConfig struct {
	// ManifestTTL is how long rendered playlists are cached.
	ManifestTTL time.Duration
	// BaseURL prefixes the URLs written into playlists. Empty keeps them
	// relative to the API root.
	BaseURL string
}

// DefaultStreamServiceConfig returns the default configuration.
func DefaultStreamServiceConfig() StreamServiceConfig {
	return StreamServiceConfig{
		ManifestTTL: 24 * time.Hour,
	}
}

// StreamService renders playlists and serves segment bytes.
type StreamService interface {
	// BuildManifest renders the media playlist of one resolution. An empty
	// resolution selects the lowest ready resolution.
	BuildManifest(ctx context.Context, assetID uuid.UUID, resolution string) (string, error)

	// BuildMasterManifest renders one entry per ready resolution.
	BuildMasterManifest(ctx context.Context, assetID uuid.UUID) (string, error)

	// FetchSegment returns a local path holding the segment's bytes.
	FetchSegment(ctx context.Context, segmentID uuid.UUID) (string, error)
}

type streamService struct {
	assets    repository.AssetRepository
	jobs      repository.JobRepository
	segments  repository.SegmentRepository
	pool      repository.BlobPool
	manifests cache.ManifestCache
	disk      SegmentCache
	sfGroup   singleflight.Group

	// relocated maps a recorded segment blob to the account it was last
	// found on. Segment records stay as written.
	relocated sync.Map

	manifestTTL time.Duration
	baseURL     string
}

// NewStreamService creates a new StreamService instance.
// manifests may be nil to disable playlist caching.
func NewStreamService(
	assets repository.AssetRepository,
	jobs repository.JobRepository,
	segments repository.SegmentRepository,
	pool repository.BlobPool,
	manifests cache.ManifestCache,
	disk SegmentCache,
	cfg StreamServiceConfig,
) StreamService {
	if cfg.ManifestTTL <= 0 {
		cfg.ManifestTTL = DefaultStreamServiceConfig().ManifestTTL
	}
	return &streamService{
		assets:      assets,
		jobs:        jobs,
		segments:    segments,
		pool:        pool,
		manifests:   manifests,
		disk:        disk,
		manifestTTL: cfg.ManifestTTL,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// BuildManifest renders an HLS VOD playlist. Only resolutions whose job is
// ready are served, so a playlist never ends early mid-conversion.
func (s *streamService) BuildManifest(ctx context.Context, assetID uuid.UUID, resolution string) (string, error) {
	if resolution != "" {
		if _, ok := model.LookupResolution(resolution); !ok {
			return "", fmt.Errorf("%w: %q", model.ErrInvalidResolution, resolution)
		}
		if text, ok := s.cached(ctx, assetID, resolution); ok {
			return text, nil
		}
	}

	ready, err := s.readyResolutions(ctx, assetID)
	if err != nil {
		return "", err
	}
	if resolution == "" {
		resolution = ready[0]
		if text, ok := s.cached(ctx, assetID, resolution); ok {
			return text, nil
		}
	} else if !contains(ready, resolution) {
		return "", fmt.Errorf("%w: %s is not ready", repository.ErrNoSegments, resolution)
	}

	segments, err := s.segments.ListByAsset(ctx, assetID, resolution)
	if err != nil {
		return "", fmt.Errorf("list segments: %w", err)
	}
	if len(segments) == 0 {
		return "", repository.ErrNoSegments
	}
	for i, seg := range segments {
		if seg.Index != i {
			return "", fmt.Errorf("%w: segment %d of %s missing", repository.ErrNoSegments, i, resolution)
		}
	}

	text := s.renderMedia(segments)
	s.store(ctx, assetID, resolution, text)
	return text, nil
}

// BuildMasterManifest renders the adaptive playlist over ready resolutions.
func (s *streamService) BuildMasterManifest(ctx context.Context, assetID uuid.UUID) (string, error) {
	if text, ok := s.cached(ctx, assetID, ""); ok {
		return text, nil
	}

	ready, err := s.readyResolutions(ctx, assetID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, name := range ready {
		res, ok := model.LookupResolution(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", res.Bitrate, res.Width, res.Height)
		fmt.Fprintf(&b, "%s/stream/manifest/%s?resolution=%s\n", s.baseURL, assetID, url.QueryEscape(name))
	}

	text := b.String()
	s.store(ctx, assetID, "", text)
	return text, nil
}

// readyResolutions returns the asset's ready resolutions, lowest first.
func (s *streamService) readyResolutions(ctx context.Context, assetID uuid.UUID) ([]string, error) {
	if _, err := s.assets.GetByID(ctx, assetID); err != nil {
		return nil, err
	}

	jobs, err := s.jobs.ListByAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	var ready []string
	for _, j := range jobs {
		if j.Status == model.JobStatusReady {
			ready = append(ready, j.Resolution)
		}
	}
	if len(ready) == 0 {
		return nil, repository.ErrNoSegments
	}
	model.SortResolutionNames(ready)
	return ready, nil
}

func (s *streamService) renderMedia(segments []*model.Segment) string {
	target := 1.0
	for _, seg := range segments {
		target = math.Max(target, seg.Duration)
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(target)))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		fmt.Fprintf(&b, "%s/stream/segment?segmentId=%s\n", s.baseURL, seg.ID)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func (s *streamService) cached(ctx context.Context, assetID uuid.UUID, resolution string) (string, bool) {
	if s.manifests == nil {
		return "", false
	}
	text, ok, err := s.manifests.Get(ctx, assetID, resolution)
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		slog.Warn("manifest cache get failed", "asset_id", assetID, "resolution", resolution, "error", err)
		return "", false
	}
	if !ok {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRedis).Inc()
		return "", false
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()
	return text, true
}

func (s *streamService) store(ctx context.Context, assetID uuid.UUID, resolution, text string) {
	if s.manifests == nil {
		return
	}
	if err := s.manifests.Set(ctx, assetID, resolution, text, s.manifestTTL); err != nil {
		slog.Warn("manifest cache set failed", "asset_id", assetID, "resolution", resolution, "error", err)
	}
}

// FetchSegment serves a segment from the disk cache, downloading it through
// the pool on a miss. Concurrent misses for one blob share a download.
func (s *streamService) FetchSegment(ctx context.Context, segmentID uuid.UUID) (string, error) {
	seg, err := s.segments.GetByID(ctx, segmentID)
	if err != nil {
		return "", err
	}

	remoteID := seg.Blob.RemoteID
	if path, ok := s.disk.Lookup(remoteID); ok {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeDisk).Inc()
		return path, nil
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeDisk).Inc()

	path, wasShared, err := shared(ctx, &s.sfGroup, remoteID, func(ctx context.Context) (string, error) {
		// A download that finished while we were queued counts as a hit.
		if path, ok := s.disk.Lookup(remoteID); ok {
			return path, nil
		}
		path := s.disk.Path(remoteID)
		ref := s.location(seg.Blob)
		found, err := s.pool.Get(ctx, ref, path)
		if err != nil {
			return "", err
		}
		if found != ref {
			s.relocate(seg, found)
		}
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeDisk).Inc()
		return path, nil
	})

	if wasShared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("fetch segment %s: %w", segmentID, err)
	}
	return path, nil
}

// location returns where a segment blob was last found, defaulting to the
// recorded reference.
func (s *streamService) location(recorded model.BlobRef) model.BlobRef {
	if v, ok := s.relocated.Load(recorded); ok {
		return v.(model.BlobRef)
	}
	return recorded
}

// relocate remembers the account a drifted blob was found on, so later
// misses go straight there instead of searching every account again.
func (s *streamService) relocate(seg *model.Segment, found model.BlobRef) {
	if found == seg.Blob {
		s.relocated.Delete(seg.Blob)
		return
	}
	slog.Warn("segment found on a different account",
		"segment_id", seg.ID,
		"recorded", seg.Blob.String(),
		"found", found.String(),
	)
	s.relocated.Store(seg.Blob, found)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
