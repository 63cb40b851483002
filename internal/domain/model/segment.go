package model

import (
	"time"

	"github.com/google/uuid"
)

// Segment is one fixed-duration piece of a transcoded variant.
// Segments of an (asset, resolution) pair are indexed 0..N-1 without gaps.
type Segment struct {
	ID         uuid.UUID
	AssetID    uuid.UUID
	Resolution string
	Index      int
	Duration   float64
	Blob       BlobRef
	CreatedAt  time.Time
}

// NewSegment creates a segment record for a stored piece.
func NewSegment(assetID uuid.UUID, resolution string, index int, duration float64, blob BlobRef) *Segment {
	return &Segment{
		ID:         uuid.New(),
		AssetID:    assetID,
		Resolution: resolution,
		Index:      index,
		Duration:   duration,
		Blob:       blob,
		CreatedAt:  time.Now(),
	}
}
