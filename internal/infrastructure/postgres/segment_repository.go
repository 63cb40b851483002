package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

const segmentColumns = `id, asset_id, resolution, idx, duration, account_id, remote_id, created_at`

// SegmentRepository implements repository.SegmentRepository using PostgreSQL.
type SegmentRepository struct {
	db DBTX
}

// NewSegmentRepository creates a new SegmentRepository instance.
func NewSegmentRepository(db DBTX) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// Create persists one segment record.
func (r *SegmentRepository) Create(ctx context.Context, seg *model.Segment) error {
	const query = `
		INSERT INTO segments (` + segmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		seg.ID,
		seg.AssetID,
		seg.Resolution,
		seg.Index,
		seg.Duration,
		seg.Blob.AccountID,
		seg.Blob.RemoteID,
		seg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}

	return nil
}

// GetByID retrieves a segment by its unique identifier.
func (r *SegmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Segment, error) {
	const query = `SELECT ` + segmentColumns + ` FROM segments WHERE id = $1`

	seg, err := scanSegment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("failed to get segment by ID: %w", err)
	}

	return seg, nil
}

// ListByAsset returns the segments of one variant ordered by index.
func (r *SegmentRepository) ListByAsset(ctx context.Context, assetID uuid.UUID, resolution string) ([]*model.Segment, error) {
	const query = `
		SELECT ` + segmentColumns + `
		FROM segments
		WHERE asset_id = $1 AND resolution = $2
		ORDER BY idx ASC
	`

	rows, err := r.db.Query(ctx, query, assetID, resolution)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	return collectSegments(rows)
}

// DeleteByAsset removes the segments of one variant and returns them.
func (r *SegmentRepository) DeleteByAsset(ctx context.Context, assetID uuid.UUID, resolution string) ([]*model.Segment, error) {
	const query = `
		DELETE FROM segments
		WHERE asset_id = $1 AND resolution = $2
		RETURNING ` + segmentColumns

	rows, err := r.db.Query(ctx, query, assetID, resolution)
	if err != nil {
		return nil, fmt.Errorf("failed to delete segments: %w", err)
	}
	return collectSegments(rows)
}

func collectSegments(rows pgx.Rows) ([]*model.Segment, error) {
	defer rows.Close()

	var segments []*model.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return segments, nil
}

func scanSegment(row rowScanner) (*model.Segment, error) {
	var seg model.Segment
	err := row.Scan(
		&seg.ID,
		&seg.AssetID,
		&seg.Resolution,
		&seg.Index,
		&seg.Duration,
		&seg.Blob.AccountID,
		&seg.Blob.RemoteID,
		&seg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

// Compile-time verification that SegmentRepository implements repository.SegmentRepository.
var _ repository.SegmentRepository = (*SegmentRepository)(nil)
