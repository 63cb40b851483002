package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/hszk-dev/mediapool/internal/domain/model"
)

// SegmentRepository defines persistence operations for transcoded segments.
type SegmentRepository interface {
	// Create persists one segment. Segments are immutable once created.
	Create(ctx context.Context, segment *model.Segment) error

	// GetByID returns ErrSegmentNotFound if the segment does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Segment, error)

	// ListByAsset returns an asset's segments for one resolution ordered by index.
	ListByAsset(ctx context.Context, assetID uuid.UUID, resolution string) ([]*model.Segment, error)

	// DeleteByAsset removes every segment of an (asset, resolution) pair
	// and returns the removed records so their blobs can be released.
	DeleteByAsset(ctx context.Context, assetID uuid.UUID, resolution string) ([]*model.Segment, error)
}
