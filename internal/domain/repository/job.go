package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hszk-dev/mediapool/internal/domain/model"
)

// JobRepository defines persistence operations for conversion jobs.
type JobRepository interface {
	// Ensure makes sure a job exists for job.AssetID and job.Resolution.
	// If the pair already has a waiting, processing or ready job, that job is
	// returned with created=false. A failed job is reset for a new attempt and
	// returned with created=true. Otherwise job is inserted (created=true).
	// Calls for the same pair are serialized.
	Ensure(ctx context.Context, job *model.ConversionJob) (current *model.ConversionJob, created bool, err error)

	// GetByID returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*model.ConversionJob, error)

	// ListByAsset returns the jobs of an asset ordered by resolution.
	ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*model.ConversionJob, error)

	// Claim moves a waiting job of the given attempt to processing. A
	// processing job of the same attempt whose last heartbeat is before
	// staleBefore is taken over as well.
	// Returns ErrJobNotClaimable if the job is held by a live worker, is
	// terminal, or the attempt is stale.
	Claim(ctx context.Context, id uuid.UUID, attempt int, staleBefore time.Time) (*model.ConversionJob, error)

	// Touch records a heartbeat for a processing job.
	Touch(ctx context.Context, id uuid.UUID) error

	// FailStale marks processing jobs without a heartbeat since staleBefore
	// as failed with reason and returns them.
	FailStale(ctx context.Context, staleBefore time.Time, reason string) ([]*model.ConversionJob, error)

	// Update persists status, progress, error and timestamps.
	Update(ctx context.Context, job *model.ConversionJob) error

	// UpdateProgress updates only the progress of a processing job.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
}
