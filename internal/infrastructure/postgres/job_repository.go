package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

const jobColumns = `id, asset_id, resolution, status, progress, attempt, options, last_error,
		started_at, completed_at, created_at, updated_at`

// JobRepository implements repository.JobRepository using PostgreSQL.
type JobRepository struct {
	db TxDB
}

// NewJobRepository creates a new JobRepository instance.
func NewJobRepository(db TxDB) *JobRepository {
	return &JobRepository{db: db}
}

// Ensure implements the one-job-per-variant rule. The advisory lock is keyed
// on the (asset, resolution) pair and released when the transaction ends, so
// concurrent requests for the same pair observe each other's writes.
func (r *JobRepository) Ensure(ctx context.Context, job *model.ConversionJob) (current *model.ConversionJob, created bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const lockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err = tx.Exec(ctx, lockQuery, job.AssetID.String()+"/"+job.Resolution); err != nil {
		return nil, false, fmt.Errorf("failed to lock job key: %w", err)
	}

	const selectQuery = `
		SELECT ` + jobColumns + `
		FROM conversion_jobs
		WHERE asset_id = $1 AND resolution = $2
	`
	current, err = scanJob(tx.QueryRow(ctx, selectQuery, job.AssetID, job.Resolution))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if err = insertJob(ctx, tx, job); err != nil {
			return nil, false, err
		}
		current, created = job, true
	case err != nil:
		return nil, false, fmt.Errorf("failed to get job: %w", err)
	case current.Status == model.JobStatusFailed:
		if err = current.Retry(); err != nil {
			return nil, false, err
		}
		current.Options = job.Options
		if err = updateJob(ctx, tx, current); err != nil {
			return nil, false, err
		}
		created = true
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit job: %w", err)
	}
	return current, created, nil
}

// GetByID retrieves a job by its unique identifier.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ConversionJob, error) {
	const query = `SELECT ` + jobColumns + ` FROM conversion_jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by ID: %w", err)
	}

	return job, nil
}

// ListByAsset returns all jobs of an asset.
func (r *JobRepository) ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*model.ConversionJob, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM conversion_jobs
		WHERE asset_id = $1
		ORDER BY resolution ASC
	`

	rows, err := r.db.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by asset: %w", err)
	}
	defer rows.Close()

	var jobs []*model.ConversionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// Claim moves a waiting job to processing if the attempt still matches.
// A processing job of the same attempt is taken over once its updated_at is
// older than staleBefore: its worker stopped heartbeating.
func (r *JobRepository) Claim(ctx context.Context, id uuid.UUID, attempt int, staleBefore time.Time) (*model.ConversionJob, error) {
	const query = `
		UPDATE conversion_jobs
		SET status = 'processing', progress = 0, started_at = $3, completed_at = NULL, updated_at = $3
		WHERE id = $1 AND attempt = $2
		  AND (status = 'waiting' OR (status = 'processing' AND updated_at < $4))
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, id, attempt, time.Now(), staleBefore))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotClaimable
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// Touch refreshes updated_at of a processing job.
func (r *JobRepository) Touch(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE conversion_jobs
		SET updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`

	if _, err := r.db.Exec(ctx, query, id, time.Now()); err != nil {
		return fmt.Errorf("failed to touch job: %w", err)
	}
	return nil
}

// FailStale fails every processing job whose updated_at is older than
// staleBefore and returns the failed jobs.
func (r *JobRepository) FailStale(ctx context.Context, staleBefore time.Time, reason string) ([]*model.ConversionJob, error) {
	const query = `
		UPDATE conversion_jobs
		SET status = 'failed', last_error = $2, completed_at = $3, updated_at = $3
		WHERE status = 'processing' AND updated_at < $1
		RETURNING ` + jobColumns

	rows, err := r.db.Query(ctx, query, staleBefore, reason, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.ConversionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale jobs: %w", err)
	}

	return jobs, nil
}

// Update persists status, progress, error and timestamps of a job.
func (r *JobRepository) Update(ctx context.Context, job *model.ConversionJob) error {
	return updateJob(ctx, r.db, job)
}

// UpdateProgress records progress for a job that is still processing.
// Progress reported after the job left processing is dropped.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	const query = `
		UPDATE conversion_jobs
		SET progress = $2, updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`

	if _, err := r.db.Exec(ctx, query, id, progress, time.Now()); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func insertJob(ctx context.Context, db DBTX, job *model.ConversionJob) error {
	const query = `
		INSERT INTO conversion_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to encode job options: %w", err)
	}

	_, err = db.Exec(ctx, query,
		job.ID,
		job.AssetID,
		job.Resolution,
		job.Status.String(),
		job.Progress,
		job.Attempt,
		opts,
		nullString(job.LastError),
		job.StartedAt,
		job.CompletedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func updateJob(ctx context.Context, db DBTX, job *model.ConversionJob) error {
	const query = `
		UPDATE conversion_jobs
		SET status = $2, progress = $3, attempt = $4, options = $5, last_error = $6,
		    started_at = $7, completed_at = $8, updated_at = $9
		WHERE id = $1
	`

	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to encode job options: %w", err)
	}
	job.UpdatedAt = time.Now()

	tag, err := db.Exec(ctx, query,
		job.ID,
		job.Status.String(),
		job.Progress,
		job.Attempt,
		opts,
		nullString(job.LastError),
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

func scanJob(row rowScanner) (*model.ConversionJob, error) {
	var (
		job       model.ConversionJob
		status    string
		opts      []byte
		lastError *string
	)

	err := row.Scan(
		&job.ID,
		&job.AssetID,
		&job.Resolution,
		&status,
		&job.Progress,
		&job.Attempt,
		&opts,
		&lastError,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	job.LastError = derefString(lastError)
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &job.Options); err != nil {
			return nil, fmt.Errorf("failed to decode job options: %w", err)
		}
	}

	return &job, nil
}

// Compile-time verification that JobRepository implements repository.JobRepository.
var _ repository.JobRepository = (*JobRepository)(nil)
