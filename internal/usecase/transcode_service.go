package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
	"github.com/hszk-dev/mediapool/internal/infrastructure/cache"
	"github.com/hszk-dev/mediapool/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediapool/internal/transcoder"
)

const (
	// DefaultMaxRetries is the default number of redeliveries of a task that
	// could not reach its job before the job is marked failed.
	DefaultMaxRetries = 3

	// DefaultJobLease is how long a processing job may go without a
	// heartbeat before it counts as abandoned.
	DefaultJobLease = 15 * time.Minute

	// progressStep is the minimum change in percent that is persisted.
	progressStep = 5

	segmentMediaType   = "video/mp2t"
	thumbnailMediaType = "image/jpeg"
)

// TranscodeServiceConfig holds configuration for TranscodeService.
type TranscodeServiceConfig struct {
	// TempDir is the base directory for temporary files during transcoding.
	TempDir string
	// MaxRetries is the maximum number of redeliveries before a job is failed.
	MaxRetries int
	// JobLease bounds the silence of a claimed job. Heartbeats are written
	// every third of it; a redelivery may take over a job past its lease.
	JobLease time.Duration
}

// DefaultTranscodeServiceConfig returns the default configuration.
func DefaultTranscodeServiceConfig() TranscodeServiceConfig {
	return TranscodeServiceConfig{
		TempDir:    os.TempDir(),
		MaxRetries: DefaultMaxRetries,
		JobLease:   DefaultJobLease,
	}
}

// TranscodeService runs queued conversion and thumbnail tasks.
type TranscodeService interface {
	// ProcessTask handles a task from the message queue.
	// Returns nil on success or permanent failure; the failure is recorded
	// on the job. Returns an error for transient failures that happened
	// before the job was claimed and should trigger a redelivery.
	ProcessTask(ctx context.Context, task repository.Task) error
}

type transcodeService struct {
	assets     repository.AssetRepository
	jobs       repository.JobRepository
	segments   repository.SegmentRepository
	pool       repository.BlobPool
	transcoder transcoder.Transcoder
	manifests  cache.ManifestCache
	assetCache cache.AssetCache

	tempDir    string
	maxRetries int
	jobLease   time.Duration
}

// NewTranscodeService creates a new TranscodeService instance.
// manifests and assetCache may be nil.
func NewTranscodeService(
	assets repository.AssetRepository,
	jobs repository.JobRepository,
	segments repository.SegmentRepository,
	pool repository.BlobPool,
	tc transcoder.Transcoder,
	manifests cache.ManifestCache,
	assetCache cache.AssetCache,
	cfg TranscodeServiceConfig,
) TranscodeService {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.JobLease <= 0 {
		cfg.JobLease = DefaultJobLease
	}
	return &transcodeService{
		assets:     assets,
		jobs:       jobs,
		segments:   segments,
		pool:       pool,
		transcoder: tc,
		manifests:  manifests,
		assetCache: assetCache,
		tempDir:    cfg.TempDir,
		maxRetries: cfg.MaxRetries,
		jobLease:   cfg.JobLease,
	}
}

// ProcessTask dispatches on the task kind.
func (s *transcodeService) ProcessTask(ctx context.Context, task repository.Task) error {
	switch task.Kind {
	case repository.TaskConvert:
		return s.processConversion(ctx, task)
	case repository.TaskThumbnail:
		s.processThumbnail(ctx, task)
		return nil
	default:
		slog.Warn("dropping task of unknown kind", "kind", task.Kind, "asset_id", task.AssetID)
		return nil
	}
}

func (s *transcodeService) processConversion(ctx context.Context, task repository.Task) error {
	if task.RetryCount >= s.maxRetries {
		s.giveUp(ctx, task)
		return nil
	}

	job, err := s.jobs.Claim(ctx, task.JobID, task.Attempt, time.Now().Add(-s.jobLease))
	if err != nil {
		if isJobGone(err) {
			// Duplicate delivery, a job held by a live worker, or a task
			// from a superseded attempt.
			metrics.JobsTotal.WithLabelValues(string(task.Kind), metrics.JobStatusSkipped).Inc()
			slog.Info("skipping task for unclaimable job",
				"job_id", task.JobID,
				"attempt", task.Attempt,
			)
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}

	// The job is ours now: every outcome is recorded on it and the
	// delivery is acknowledged.
	start := time.Now()
	stopHeartbeat := s.heartbeat(ctx, job.ID)
	err = s.convert(ctx, job)
	stopHeartbeat()
	if err != nil {
		s.failJob(ctx, job, err)
		metrics.JobsTotal.WithLabelValues(string(task.Kind), metrics.JobStatusFailed).Inc()
	} else {
		metrics.JobsTotal.WithLabelValues(string(task.Kind), metrics.JobStatusReady).Inc()
		metrics.JobDurationSeconds.WithLabelValues(job.Resolution).Observe(time.Since(start).Seconds())
		slog.Info("conversion completed",
			"job_id", job.ID,
			"asset_id", job.AssetID,
			"resolution", job.Resolution,
			"duration", time.Since(start),
		)
	}

	refreshAssetStatus(context.WithoutCancel(ctx), s.assets, s.jobs, s.assetCache, job.AssetID)
	return nil
}

// heartbeat touches the job every third of the lease until stopped, so a
// long encode or segment upload is not taken for an abandoned job.
func (s *transcodeService) heartbeat(ctx context.Context, jobID uuid.UUID) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.jobLease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.jobs.Touch(ctx, jobID); err != nil {
					slog.Warn("failed to record job heartbeat", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// convert runs one claimed job to completion.
func (s *transcodeService) convert(ctx context.Context, job *model.ConversionJob) error {
	resolution, ok := model.LookupResolution(job.Resolution)
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrInvalidResolution, job.Resolution)
	}

	asset, err := s.assets.GetByID(ctx, job.AssetID)
	if err != nil {
		return fmt.Errorf("get asset: %w", err)
	}
	if asset.Primary.IsZero() {
		return ErrAssetNotReady
	}

	workDir, err := s.createWorkDir(job.ID)
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer s.cleanup(workDir)

	inputPath := filepath.Join(workDir, "source"+strings.ToLower(filepath.Ext(asset.Name)))
	if _, err := s.pool.Get(ctx, asset.Primary, inputPath); err != nil {
		return fmt.Errorf("download source: %w", err)
	}

	// A previous attempt may have left segments behind.
	s.releaseSegments(ctx, job.AssetID, job.Resolution)

	outputDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	out, err := s.transcode(ctx, job, transcoder.Request{
		InputPath:  inputPath,
		OutputDir:  outputDir,
		Resolution: resolution,
		Options:    job.Options,
	})
	if err != nil {
		return err
	}
	if len(out.Segments) == 0 {
		return fmt.Errorf("%w: engine produced no segments", repository.ErrConversionFailed)
	}

	if err := s.storeSegments(ctx, job, out.Segments); err != nil {
		s.releaseSegments(context.WithoutCancel(ctx), job.AssetID, job.Resolution)
		return err
	}

	if err := job.TransitionTo(model.JobStatusReady); err != nil {
		return fmt.Errorf("transition to ready: %w", err)
	}
	job.LastError = ""
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	s.invalidateManifests(ctx, job.AssetID)
	return nil
}

// transcode runs the engine while a second goroutine persists its progress.
func (s *transcodeService) transcode(ctx context.Context, job *model.ConversionJob, req transcoder.Request) (*transcoder.Output, error) {
	progress := make(chan int, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.trackProgress(ctx, job.ID, progress)
	}()

	out, err := s.transcoder.Transcode(ctx, req, progress)
	close(progress)
	<-done

	if err != nil {
		return nil, err
	}
	return out, nil
}

// trackProgress writes progress only when it moved by at least progressStep.
// Completion is recorded by the final job update.
func (s *transcodeService) trackProgress(ctx context.Context, jobID uuid.UUID, progress <-chan int) {
	last := 0
	for p := range progress {
		if p >= 100 || p-last < progressStep {
			continue
		}
		if err := s.jobs.UpdateProgress(ctx, jobID, p); err != nil {
			slog.Warn("failed to persist job progress", "job_id", jobID, "progress", p, "error", err)
			continue
		}
		last = p
	}
}

// storeSegments uploads each segment in emission order and records it
// with a sequential index.
func (s *transcodeService) storeSegments(ctx context.Context, job *model.ConversionJob, segments []transcoder.Segment) error {
	for i, seg := range segments {
		name := fmt.Sprintf("%s_%s_%05d.ts", job.AssetID, job.Resolution, i)
		ref, err := s.pool.Put(ctx, seg.Path, segmentMediaType, name)
		if err != nil {
			return fmt.Errorf("store segment %d: %w", i, err)
		}

		record := model.NewSegment(job.AssetID, job.Resolution, i, seg.Duration, ref)
		if err := s.segments.Create(ctx, record); err != nil {
			s.pool.Delete(ctx, ref)
			return fmt.Errorf("record segment %d: %w", i, err)
		}
	}
	return nil
}

// releaseSegments drops the segment records of a pair and their blobs.
func (s *transcodeService) releaseSegments(ctx context.Context, assetID uuid.UUID, resolution string) {
	removed, err := s.segments.DeleteByAsset(ctx, assetID, resolution)
	if err != nil {
		slog.Warn("failed to remove old segments",
			"asset_id", assetID,
			"resolution", resolution,
			"error", err,
		)
		return
	}
	for _, seg := range removed {
		s.pool.Delete(ctx, seg.Blob)
	}
	if len(removed) > 0 {
		s.invalidateManifests(ctx, assetID)
	}
}

// failJob records the failure on the job. It runs detached from ctx so a
// cancelled worker still leaves a terminal record behind.
func (s *transcodeService) failJob(ctx context.Context, job *model.ConversionJob, cause error) {
	ctx = context.WithoutCancel(ctx)

	slog.Error("conversion failed",
		"job_id", job.ID,
		"asset_id", job.AssetID,
		"resolution", job.Resolution,
		"error", cause,
	)

	if err := job.Fail(cause.Error()); err != nil {
		slog.Error("cannot fail job", "job_id", job.ID, "status", job.Status, "error", err)
		return
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		slog.Error("failed to record job failure", "job_id", job.ID, "error", err)
	}
}

// giveUp fails a job whose task ran out of redeliveries.
func (s *transcodeService) giveUp(ctx context.Context, task repository.Task) {
	job, err := s.jobs.GetByID(ctx, task.JobID)
	if err != nil {
		slog.Error("failed to load job after retries exhausted",
			"job_id", task.JobID,
			"retry_count", task.RetryCount,
			"error", err,
		)
		return
	}
	if job.Attempt != task.Attempt || job.Status.IsTerminal() {
		return
	}

	s.failJob(ctx, job, fmt.Errorf("task failed after %d deliveries", task.RetryCount))
	metrics.JobsTotal.WithLabelValues(string(task.Kind), metrics.JobStatusFailed).Inc()
	refreshAssetStatus(context.WithoutCancel(ctx), s.assets, s.jobs, s.assetCache, job.AssetID)
}

// processThumbnail is best-effort: any failure is logged and the asset
// keeps its status.
func (s *transcodeService) processThumbnail(ctx context.Context, task repository.Task) {
	err := s.thumbnail(ctx, task.AssetID)
	status := metrics.JobStatusReady
	if err != nil {
		status = metrics.JobStatusFailed
		slog.Warn("thumbnail generation failed", "asset_id", task.AssetID, "error", err)
	}
	metrics.JobsTotal.WithLabelValues(string(task.Kind), status).Inc()
}

func (s *transcodeService) thumbnail(ctx context.Context, assetID uuid.UUID) error {
	asset, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			return nil
		}
		return fmt.Errorf("get asset: %w", err)
	}
	if !asset.WantsThumbnail() || asset.Primary.IsZero() {
		return nil
	}

	workDir, err := s.createWorkDir(uuid.New())
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer s.cleanup(workDir)

	inputPath := filepath.Join(workDir, "source"+strings.ToLower(filepath.Ext(asset.Name)))
	if _, err := s.pool.Get(ctx, asset.Primary, inputPath); err != nil {
		return fmt.Errorf("download source: %w", err)
	}

	outputPath := filepath.Join(workDir, "thumbnail.jpg")
	if err := s.transcoder.Thumbnail(ctx, asset.Category, inputPath, outputPath); err != nil {
		return err
	}

	name := strings.TrimSuffix(asset.Name, filepath.Ext(asset.Name)) + "_thumb.jpg"
	ref, err := s.pool.Put(ctx, outputPath, thumbnailMediaType, name)
	if err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}

	if err := s.assets.UpdateThumbnail(ctx, asset.ID, ref); err != nil {
		s.pool.Delete(ctx, ref)
		return fmt.Errorf("record thumbnail: %w", err)
	}
	if !asset.Thumbnail.IsZero() && asset.Thumbnail != ref {
		s.pool.Delete(ctx, asset.Thumbnail)
	}
	invalidateAsset(ctx, s.assetCache, asset.ID)

	slog.Info("thumbnail stored", "asset_id", asset.ID, "account_id", ref.AccountID)
	return nil
}

func (s *transcodeService) invalidateManifests(ctx context.Context, assetID uuid.UUID) {
	if s.manifests == nil {
		return
	}
	if err := s.manifests.Invalidate(ctx, assetID); err != nil {
		slog.Warn("failed to invalidate manifest cache", "asset_id", assetID, "error", err)
	}
}

// createWorkDir creates a temporary directory for one task.
func (s *transcodeService) createWorkDir(id uuid.UUID) (string, error) {
	workDir := filepath.Join(s.tempDir, "mediapool", id.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	return workDir, nil
}

// cleanup removes the temporary working directory.
func (s *transcodeService) cleanup(workDir string) {
	_ = os.RemoveAll(workDir)
}
