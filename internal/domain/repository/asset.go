package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/hszk-dev/mediapool/internal/domain/model"
)

// AssetRepository defines persistence operations for assets.
type AssetRepository interface {
	// Create persists a new asset.
	// Returns ErrDuplicateAsset if the identifier is already taken.
	Create(ctx context.Context, asset *model.Asset) error

	// GetByID returns ErrAssetNotFound if the asset does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Asset, error)

	// GetByIdentifier looks up an asset by its deduplication identifier.
	GetByIdentifier(ctx context.Context, identifier string) (*model.Asset, error)

	// Update persists changes to an existing asset.
	Update(ctx context.Context, asset *model.Asset) error

	// StorePrimary records the primary blob, status and last error of an
	// asset that has no primary blob yet.
	// Returns ErrAlreadyStored if a primary blob is already recorded.
	StorePrimary(ctx context.Context, asset *model.Asset) error

	// UpdateStatus updates only status and last error.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssetStatus, lastError string) error

	// UpdateThumbnail records the thumbnail blob reference only.
	UpdateThumbnail(ctx context.Context, id uuid.UUID, ref model.BlobRef) error
}
