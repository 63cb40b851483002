package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
	"github.com/hszk-dev/mediapool/internal/infrastructure/cache"
	"github.com/hszk-dev/mediapool/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediapool/internal/infrastructure/scratch"
)

const (
	reasonUploadAborted   = "upload aborted"
	reasonUploadAbandoned = "upload abandoned"
)

// InitUploadInput contains the declared metadata of a new upload.
type InitUploadInput struct {
	Name      string
	Size      int64
	MediaType string
	Category  model.Category
	FolderTag string
	// Identifier optionally deduplicates uploads of the same content.
	Identifier string
}

// InitUploadOutput contains the result of starting an upload.
type InitUploadOutput struct {
	UploadID uuid.UUID
	Asset    *model.Asset
	// Deduplicated is set when Identifier matched an existing asset.
	Deduplicated bool
}

// ChunkInput is one client-submitted byte range.
type ChunkInput struct {
	UploadID uuid.UUID
	Index    int
	Body     io.Reader
	// SHA256 is an optional hex digest of Body.
	SHA256 string
}

// ImportInput adopts a blob already present on a storage account.
type ImportInput struct {
	RemoteID  string
	Name      string
	MediaType string
	Category  model.Category
	FolderTag string
}

// UploadService assembles uploaded files and hands them to the storage pool.
type UploadService interface {
	// InitUpload creates the asset in processing status and its scratch space.
	InitUpload(ctx context.Context, input InitUploadInput) (*InitUploadOutput, error)

	// AcceptChunk stores one chunk. Chunks may arrive in any order and may
	// be resent; the last copy of an index wins.
	AcceptChunk(ctx context.Context, input ChunkInput) (int64, error)

	// CompleteUpload concatenates chunks 0..N-1, stores the result in the
	// pool and marks the asset ready.
	CompleteUpload(ctx context.Context, uploadID uuid.UUID) (*model.Asset, error)

	// UploadFile is the single-request path for small files.
	UploadFile(ctx context.Context, input InitUploadInput, body io.Reader) (*model.Asset, error)

	// AbortUpload discards scratch data and marks the asset failed.
	AbortUpload(ctx context.Context, uploadID uuid.UUID) error

	// Import registers an existing remote blob as a ready asset.
	Import(ctx context.Context, input ImportInput) (*model.Asset, error)

	// PurgeStale removes uploads idle for longer than the stale threshold.
	PurgeStale(ctx context.Context) (int, error)
}

// UploadServiceConfig holds configuration for UploadService.
type UploadServiceConfig struct {
	// StaleAfter is how long an upload may sit idle before it is purged.
	StaleAfter time.Duration
}

// DefaultUploadServiceConfig returns the default configuration.
func DefaultUploadServiceConfig() UploadServiceConfig {
	return UploadServiceConfig{
		StaleAfter: 24 * time.Hour,
	}
}

type uploadService struct {
	assets     repository.AssetRepository
	pool       repository.BlobPool
	queue      repository.MessageQueue
	chunks     *scratch.Store
	assetCache cache.AssetCache

	// completions serializes CompleteUpload per upload id.
	completions singleflight.Group

	staleAfter time.Duration
	now        func() time.Time
}

// NewUploadService creates a new UploadService instance.
// assetCache may be nil.
func NewUploadService(
	assets repository.AssetRepository,
	pool repository.BlobPool,
	queue repository.MessageQueue,
	chunks *scratch.Store,
	assetCache cache.AssetCache,
	cfg UploadServiceConfig,
) UploadService {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultUploadServiceConfig().StaleAfter
	}
	return &uploadService{
		assets:     assets,
		pool:       pool,
		queue:      queue,
		chunks:     chunks,
		assetCache: assetCache,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
}

// InitUpload creates the asset record and the scratch directory.
func (s *uploadService) InitUpload(ctx context.Context, input InitUploadInput) (*InitUploadOutput, error) {
	if input.Identifier != "" {
		existing, err := s.assets.GetByIdentifier(ctx, input.Identifier)
		if err == nil {
			metrics.UploadsTotal.WithLabelValues(metrics.UploadPathChunked, metrics.UploadStatusDeduplicated).Inc()
			return &InitUploadOutput{UploadID: existing.ID, Asset: existing, Deduplicated: true}, nil
		}
		if !errors.Is(err, repository.ErrAssetNotFound) {
			return nil, fmt.Errorf("lookup identifier: %w", err)
		}
	}

	asset, err := model.NewAsset(input.Name, input.Size, input.MediaType, input.Category, input.FolderTag)
	if err != nil {
		return nil, err
	}
	if input.Identifier != "" {
		asset.Identifier = input.Identifier
	}

	if err := s.assets.Create(ctx, asset); err != nil {
		// Lost a race with a concurrent init of the same identifier.
		if errors.Is(err, repository.ErrDuplicateAsset) && input.Identifier != "" {
			existing, lookupErr := s.assets.GetByIdentifier(ctx, input.Identifier)
			if lookupErr == nil {
				return &InitUploadOutput{UploadID: existing.ID, Asset: existing, Deduplicated: true}, nil
			}
		}
		return nil, fmt.Errorf("create asset: %w", err)
	}

	if err := s.chunks.Create(asset.ID); err != nil {
		s.failAsset(ctx, asset, "scratch space unavailable")
		return nil, fmt.Errorf("create scratch space: %w", err)
	}

	slog.Info("upload started",
		"asset_id", asset.ID,
		"name", asset.Name,
		"size", asset.Size,
		"category", asset.Category,
	)
	return &InitUploadOutput{UploadID: asset.ID, Asset: asset}, nil
}

// AcceptChunk writes one chunk into the upload's scratch directory.
func (s *uploadService) AcceptChunk(_ context.Context, input ChunkInput) (int64, error) {
	n, err := s.chunks.WriteChunk(input.UploadID, input.Index, input.Body, input.SHA256)
	if err != nil {
		return 0, fmt.Errorf("chunk %d: %w", input.Index, err)
	}
	return n, nil
}

// CompleteUpload validates the chunk set and finalizes the upload.
func (s *uploadService) CompleteUpload(ctx context.Context, uploadID uuid.UUID) (*model.Asset, error) {
	return s.complete(ctx, uploadID, metrics.UploadPathChunked)
}

// complete lets one caller per upload id assemble and store the file; callers
// that arrive meanwhile receive its result.
func (s *uploadService) complete(ctx context.Context, uploadID uuid.UUID, path string) (*model.Asset, error) {
	asset, _, err := shared(ctx, &s.completions, uploadID.String(), func(ctx context.Context) (*model.Asset, error) {
		return s.store(ctx, uploadID, path)
	})
	return asset, err
}

func (s *uploadService) store(ctx context.Context, uploadID uuid.UUID, path string) (*model.Asset, error) {
	asset, err := s.assets.GetByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if !asset.Primary.IsZero() {
		// Completing twice returns the stored result.
		return asset, nil
	}

	chunks, err := s.chunks.Chunks(uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrUploadNotFound) {
			return nil, ErrUploadClosed
		}
		return nil, err
	}
	if err := verifyChunks(chunks, asset.Size); err != nil {
		return nil, err
	}

	assembled, _, err := s.chunks.Assemble(uploadID, len(chunks))
	if err != nil {
		return nil, fmt.Errorf("assemble chunks: %w", err)
	}
	defer func() { _ = os.Remove(assembled) }()

	ref, err := s.pool.Put(ctx, assembled, asset.MediaType, asset.Name)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(path, metrics.UploadStatusError).Inc()
		// Chunks stay on disk so completion can be retried.
		s.failAsset(ctx, asset, err.Error())
		return nil, fmt.Errorf("store upload: %w", err)
	}

	if err := s.markStored(ctx, asset, ref); err != nil {
		s.pool.Delete(ctx, ref)
		if errors.Is(err, repository.ErrAlreadyStored) {
			// Another instance completed the upload first.
			slog.Info("upload completed concurrently, dropping duplicate blob",
				"asset_id", uploadID,
				"remote_id", ref.RemoteID,
			)
			if err := s.chunks.Purge(uploadID); err != nil {
				slog.Warn("failed to purge scratch directory", "asset_id", uploadID, "error", err)
			}
			return s.assets.GetByID(ctx, uploadID)
		}
		return nil, err
	}

	if err := s.chunks.Purge(uploadID); err != nil {
		slog.Warn("failed to purge scratch directory", "asset_id", uploadID, "error", err)
	}

	metrics.UploadsTotal.WithLabelValues(path, metrics.UploadStatusSuccess).Inc()
	slog.Info("upload completed",
		"asset_id", asset.ID,
		"account_id", ref.AccountID,
		"remote_id", ref.RemoteID,
	)
	return asset, nil
}

// verifyChunks requires indices 0..N-1 without gaps whose sizes add up to
// the declared size.
func verifyChunks(chunks []scratch.Chunk, declared int64) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks received", repository.ErrIncompleteUpload)
	}

	var total int64
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("%w: chunk %d missing", repository.ErrIncompleteUpload, i)
		}
		total += c.Size
	}
	if total != declared {
		return fmt.Errorf("%w: received %d of %d bytes", repository.ErrIncompleteUpload, total, declared)
	}
	return nil
}

// markStored records the primary blob, marks the asset ready and schedules
// its thumbnail.
func (s *uploadService) markStored(ctx context.Context, asset *model.Asset, ref model.BlobRef) error {
	if asset.Status == model.AssetStatusFailed {
		if err := asset.TransitionTo(model.AssetStatusProcessing); err != nil {
			return fmt.Errorf("reopen asset: %w", err)
		}
	}
	asset.SetPrimaryBlob(ref)
	asset.LastError = ""
	if err := asset.TransitionTo(model.AssetStatusReady); err != nil {
		return fmt.Errorf("transition to ready: %w", err)
	}

	if err := s.assets.StorePrimary(ctx, asset); err != nil {
		return fmt.Errorf("store primary blob: %w", err)
	}
	invalidateAsset(ctx, s.assetCache, asset.ID)

	if asset.WantsThumbnail() {
		task := repository.Task{Kind: repository.TaskThumbnail, AssetID: asset.ID}
		if err := s.queue.PublishTask(ctx, task); err != nil {
			slog.Warn("failed to schedule thumbnail", "asset_id", asset.ID, "error", err)
		}
	}
	return nil
}

// UploadFile stores a small file through the same path as a one-chunk upload.
func (s *uploadService) UploadFile(ctx context.Context, input InitUploadInput, body io.Reader) (*model.Asset, error) {
	started, err := s.InitUpload(ctx, input)
	if err != nil {
		return nil, err
	}
	if started.Deduplicated {
		return started.Asset, nil
	}

	if _, err := s.chunks.WriteChunk(started.UploadID, 0, body, ""); err != nil {
		s.abandon(ctx, started.Asset, "file body could not be stored")
		return nil, fmt.Errorf("write file body: %w", err)
	}

	asset, err := s.complete(ctx, started.UploadID, metrics.UploadPathFile)
	if err != nil {
		if errors.Is(err, repository.ErrIncompleteUpload) {
			s.abandon(ctx, started.Asset, err.Error())
		}
		return nil, err
	}
	return asset, nil
}

// AbortUpload marks an unfinished upload failed and drops its chunks.
func (s *uploadService) AbortUpload(ctx context.Context, uploadID uuid.UUID) error {
	asset, err := s.assets.GetByID(ctx, uploadID)
	if err != nil {
		return err
	}
	if !asset.Primary.IsZero() {
		return ErrUploadClosed
	}

	s.abandon(ctx, asset, reasonUploadAborted)
	slog.Info("upload aborted", "asset_id", uploadID)
	return nil
}

// Import registers a blob already on one of the accounts. Its bytes are
// already counted by the provider, so usage is left to reconciliation.
func (s *uploadService) Import(ctx context.Context, input ImportInput) (*model.Asset, error) {
	identifier := "remote:" + input.RemoteID
	if existing, err := s.assets.GetByIdentifier(ctx, identifier); err == nil {
		metrics.UploadsTotal.WithLabelValues(metrics.UploadPathImport, metrics.UploadStatusDeduplicated).Inc()
		return existing, nil
	} else if !errors.Is(err, repository.ErrAssetNotFound) {
		return nil, fmt.Errorf("lookup identifier: %w", err)
	}

	ref, info, err := s.pool.Locate(ctx, input.RemoteID)
	if err != nil {
		return nil, err
	}

	mediaType := input.MediaType
	if mediaType == "" {
		mediaType = info.ContentType
	}
	asset, err := model.NewAsset(input.Name, info.Size, mediaType, input.Category, input.FolderTag)
	if err != nil {
		return nil, err
	}
	asset.Identifier = identifier
	asset.SetPrimaryBlob(ref)
	if err := asset.TransitionTo(model.AssetStatusReady); err != nil {
		return nil, err
	}

	if err := s.assets.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	if asset.WantsThumbnail() {
		task := repository.Task{Kind: repository.TaskThumbnail, AssetID: asset.ID}
		if err := s.queue.PublishTask(ctx, task); err != nil {
			slog.Warn("failed to schedule thumbnail", "asset_id", asset.ID, "error", err)
		}
	}

	metrics.UploadsTotal.WithLabelValues(metrics.UploadPathImport, metrics.UploadStatusSuccess).Inc()
	slog.Info("remote blob imported", "asset_id", asset.ID, "account_id", ref.AccountID, "remote_id", ref.RemoteID)
	return asset, nil
}

// PurgeStale removes scratch directories idle longer than StaleAfter and
// fails their assets.
func (s *uploadService) PurgeStale(ctx context.Context) (int, error) {
	stale, err := s.chunks.Stale(s.staleAfter, s.now())
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, id := range stale {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}

		asset, err := s.assets.GetByID(ctx, id)
		switch {
		case errors.Is(err, repository.ErrAssetNotFound):
			if err := s.chunks.Purge(id); err != nil {
				slog.Warn("failed to purge orphaned scratch directory", "upload_id", id, "error", err)
				continue
			}
		case err != nil:
			slog.Warn("failed to load stale upload", "upload_id", id, "error", err)
			continue
		default:
			s.abandon(ctx, asset, reasonUploadAbandoned)
		}
		purged++
	}

	if purged > 0 {
		slog.Info("stale uploads purged", "count", purged)
	}
	return purged, nil
}

// abandon drops scratch data and fails the asset if it never got content.
func (s *uploadService) abandon(ctx context.Context, asset *model.Asset, reason string) {
	if err := s.chunks.Purge(asset.ID); err != nil {
		slog.Warn("failed to purge scratch directory", "asset_id", asset.ID, "error", err)
	}
	if asset.Primary.IsZero() {
		s.failAsset(ctx, asset, reason)
	}
}

func (s *uploadService) failAsset(ctx context.Context, asset *model.Asset, reason string) {
	if asset.Status != model.AssetStatusFailed {
		if err := asset.Fail(reason); err != nil {
			slog.Warn("cannot fail asset", "asset_id", asset.ID, "status", asset.Status, "error", err)
			return
		}
	}
	asset.LastError = reason
	if err := s.assets.UpdateStatus(ctx, asset.ID, model.AssetStatusFailed, reason); err != nil {
		slog.Error("failed to mark asset failed", "asset_id", asset.ID, "error", err)
	}
	invalidateAsset(ctx, s.assetCache, asset.ID)
}

// invalidateAsset drops a cached asset. Failures only cost staleness
// until the cache TTL expires.
func invalidateAsset(ctx context.Context, c cache.AssetCache, id uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.Delete(ctx, id); err != nil {
		slog.Warn("failed to invalidate asset cache", "asset_id", id, "error", err)
	}
}
