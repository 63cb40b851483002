package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
	"github.com/hszk-dev/mediapool/internal/infrastructure/cache"
	"github.com/hszk-dev/mediapool/internal/infrastructure/metrics"
)

// ConversionRequest asks for one or more renditions of a video asset.
type ConversionRequest struct {
	AssetID     uuid.UUID
	Resolutions []string
	Options     model.EncodeOptions
}

// JobSummary reports the state of one requested resolution.
type JobSummary struct {
	JobID      uuid.UUID       `json:"jobId"`
	Resolution string          `json:"resolution"`
	Status     model.JobStatus `json:"status"`
	Progress   int             `json:"progress"`
	// Created is false when an existing job was reported instead.
	Created bool `json:"created"`
}

// AssetJobs is the aggregated conversion state of one asset.
type AssetJobs struct {
	AssetID uuid.UUID
	Status  model.JobStatus
	Jobs    []*model.ConversionJob
}

// ConversionService schedules transcoding jobs.
type ConversionService interface {
	// RequestConversion creates or reports one job per resolution.
	// A pair with a live or ready job is reported as-is.
	RequestConversion(ctx context.Context, req ConversionRequest) ([]JobSummary, error)

	// RetryJob resets a failed job to waiting and enqueues it again.
	RetryJob(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error)

	// GetJob returns a single job.
	GetJob(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error)

	// JobsByAsset returns every job of an asset and their aggregate status.
	JobsByAsset(ctx context.Context, assetID uuid.UUID) (*AssetJobs, error)

	// ReapStaleJobs fails processing jobs whose worker stopped heartbeating
	// so they can be retried, and returns how many were failed.
	ReapStaleJobs(ctx context.Context) (int, error)
}

// ConversionServiceConfig holds configuration for ConversionService.
type ConversionServiceConfig struct {
	// JobLease must match the lease the workers heartbeat against.
	JobLease time.Duration
}

// DefaultConversionServiceConfig returns the default configuration.
func DefaultConversionServiceConfig() ConversionServiceConfig {
	return ConversionServiceConfig{JobLease: DefaultJobLease}
}

// lostWorkerError is recorded on jobs failed by ReapStaleJobs.
const lostWorkerError = "worker lost: no heartbeat within the job lease"

type conversionService struct {
	assets     repository.AssetRepository
	jobs       repository.JobRepository
	queue      repository.MessageQueue
	assetCache cache.AssetCache

	jobLease time.Duration
	now      func() time.Time
}

// NewConversionService creates a new ConversionService instance.
// assetCache may be nil.
func NewConversionService(
	assets repository.AssetRepository,
	jobs repository.JobRepository,
	queue repository.MessageQueue,
	assetCache cache.AssetCache,
	cfg ConversionServiceConfig,
) ConversionService {
	if cfg.JobLease <= 0 {
		cfg.JobLease = DefaultJobLease
	}
	return &conversionService{
		assets:     assets,
		jobs:       jobs,
		queue:      queue,
		assetCache: assetCache,
		jobLease:   cfg.JobLease,
		now:        time.Now,
	}
}

// RequestConversion validates the asset and ensures a job per resolution.
func (s *conversionService) RequestConversion(ctx context.Context, req ConversionRequest) ([]JobSummary, error) {
	resolutions, err := normalizeResolutions(req.Resolutions)
	if err != nil {
		return nil, err
	}

	asset, err := s.assets.GetByID(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if asset.Category != model.CategoryVideo {
		return nil, ErrNotVideo
	}
	if asset.Primary.IsZero() {
		return nil, ErrAssetNotReady
	}

	summaries := make([]JobSummary, 0, len(resolutions))
	scheduled := false
	for _, res := range resolutions {
		candidate, err := model.NewConversionJob(asset.ID, res, req.Options)
		if err != nil {
			return nil, err
		}

		job, created, err := s.jobs.Ensure(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("ensure job %s: %w", res, err)
		}

		if created {
			if err := s.enqueue(ctx, job); err != nil {
				return nil, err
			}
			scheduled = true
		}

		summaries = append(summaries, JobSummary{
			JobID:      job.ID,
			Resolution: job.Resolution,
			Status:     job.Status,
			Progress:   job.Progress,
			Created:    created,
		})
	}

	if scheduled {
		s.markAssetProcessing(ctx, asset)
	}

	slog.Info("conversion requested",
		"asset_id", asset.ID,
		"resolutions", resolutions,
		"scheduled", scheduled,
	)
	return summaries, nil
}

// RetryJob re-opens a failed job for a new attempt.
func (s *conversionService) RetryJob(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusFailed {
		return nil, ErrJobNotRetryable
	}

	candidate, err := model.NewConversionJob(job.AssetID, job.Resolution, job.Options)
	if err != nil {
		return nil, err
	}
	current, created, err := s.jobs.Ensure(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("reset job: %w", err)
	}
	if !created {
		// Someone else already retried it.
		return current, nil
	}

	if err := s.enqueue(ctx, current); err != nil {
		return nil, err
	}

	if asset, err := s.assets.GetByID(ctx, current.AssetID); err == nil {
		s.markAssetProcessing(ctx, asset)
	} else {
		slog.Warn("failed to load asset for retried job", "job_id", current.ID, "error", err)
	}

	slog.Info("conversion job retried",
		"job_id", current.ID,
		"asset_id", current.AssetID,
		"resolution", current.Resolution,
		"attempt", current.Attempt,
	)
	return current, nil
}

// GetJob returns a job by id.
func (s *conversionService) GetJob(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// JobsByAsset folds an asset's jobs into one status.
func (s *conversionService) JobsByAsset(ctx context.Context, assetID uuid.UUID) (*AssetJobs, error) {
	if _, err := s.assets.GetByID(ctx, assetID); err != nil {
		return nil, err
	}

	jobs, err := s.jobs.ListByAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return &AssetJobs{
		AssetID: assetID,
		Status:  model.AggregateStatus(jobs),
		Jobs:    jobs,
	}, nil
}

// enqueue publishes the convert task for a job. A job that could not be
// published is failed so that it can be retried explicitly.
func (s *conversionService) enqueue(ctx context.Context, job *model.ConversionJob) error {
	task := repository.Task{
		Kind:       repository.TaskConvert,
		AssetID:    job.AssetID,
		JobID:      job.ID,
		Resolution: job.Resolution,
		Attempt:    job.Attempt,
	}
	if err := s.queue.PublishTask(ctx, task); err != nil {
		if failErr := job.Fail("could not be queued: " + err.Error()); failErr == nil {
			if updateErr := s.jobs.Update(context.WithoutCancel(ctx), job); updateErr != nil {
				slog.Error("failed to mark unqueued job failed", "job_id", job.ID, "error", updateErr)
			}
		}
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

func (s *conversionService) markAssetProcessing(ctx context.Context, asset *model.Asset) {
	if asset.Status == model.AssetStatusProcessing {
		return
	}
	if err := asset.TransitionTo(model.AssetStatusProcessing); err != nil {
		return
	}
	if err := s.assets.UpdateStatus(ctx, asset.ID, model.AssetStatusProcessing, ""); err != nil {
		slog.Warn("failed to mark asset processing", "asset_id", asset.ID, "error", err)
		return
	}
	invalidateAsset(ctx, s.assetCache, asset.ID)
}

// normalizeResolutions validates labels and drops duplicates, keeping
// the first occurrence order.
func normalizeResolutions(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, ErrNoResolutions
	}

	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, res := range in {
		if _, ok := model.LookupResolution(res); !ok {
			return nil, fmt.Errorf("%w: %q", model.ErrInvalidResolution, res)
		}
		if seen[res] {
			continue
		}
		seen[res] = true
		out = append(out, res)
	}
	return out, nil
}

// ReapStaleJobs fails abandoned processing jobs and refreshes their assets.
func (s *conversionService) ReapStaleJobs(ctx context.Context) (int, error) {
	failed, err := s.jobs.FailStale(ctx, s.now().Add(-s.jobLease), lostWorkerError)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}

	refreshed := make(map[uuid.UUID]bool, len(failed))
	for _, job := range failed {
		metrics.JobsTotal.WithLabelValues(string(repository.TaskConvert), metrics.JobStatusFailed).Inc()
		slog.Warn("conversion job abandoned by its worker",
			"job_id", job.ID,
			"asset_id", job.AssetID,
			"resolution", job.Resolution,
			"attempt", job.Attempt,
		)
		if refreshed[job.AssetID] {
			continue
		}
		refreshed[job.AssetID] = true
		refreshAssetStatus(ctx, s.assets, s.jobs, s.assetCache, job.AssetID)
	}
	return len(failed), nil
}

// isJobGone reports whether a task refers to a job that can no longer run.
func isJobGone(err error) bool {
	return errors.Is(err, repository.ErrJobNotClaimable) || errors.Is(err, repository.ErrJobNotFound)
}
