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

const assetColumns = `id, identifier, name, category, size, media_type, status, folder_tag,
		primary_account, primary_remote_id, thumb_account, thumb_remote_id, last_error, extra,
		created_at, updated_at`

// AssetRepository implements repository.AssetRepository using PostgreSQL.
type AssetRepository struct {
	db DBTX
}

// NewAssetRepository creates a new AssetRepository instance.
func NewAssetRepository(db DBTX) *AssetRepository {
	return &AssetRepository{db: db}
}

// Create persists a new asset.
func (r *AssetRepository) Create(ctx context.Context, asset *model.Asset) error {
	const query = `
		INSERT INTO assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	extra, err := marshalExtra(asset.Extra)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query,
		asset.ID,
		asset.Identifier,
		asset.Name,
		string(asset.Category),
		asset.Size,
		asset.MediaType,
		asset.Status.String(),
		nullString(asset.FolderTag),
		nullString(asset.Primary.AccountID),
		nullString(asset.Primary.RemoteID),
		nullString(asset.Thumbnail.AccountID),
		nullString(asset.Thumbnail.RemoteID),
		nullString(asset.LastError),
		extra,
		asset.CreatedAt,
		asset.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateAsset
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}

	return nil
}

// GetByID retrieves an asset by its unique identifier.
func (r *AssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	const query = `SELECT ` + assetColumns + ` FROM assets WHERE id = $1`

	asset, err := scanAsset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset by ID: %w", err)
	}

	return asset, nil
}

// GetByIdentifier retrieves an asset by its deduplication identifier.
func (r *AssetRepository) GetByIdentifier(ctx context.Context, identifier string) (*model.Asset, error) {
	const query = `SELECT ` + assetColumns + ` FROM assets WHERE identifier = $1`

	asset, err := scanAsset(r.db.QueryRow(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset by identifier: %w", err)
	}

	return asset, nil
}

// Update persists changes to an existing asset.
func (r *AssetRepository) Update(ctx context.Context, asset *model.Asset) error {
	const query = `
		UPDATE assets
		SET name = $2, status = $3, folder_tag = $4, primary_account = $5, primary_remote_id = $6,
		    thumb_account = $7, thumb_remote_id = $8, last_error = $9, extra = $10, updated_at = $11
		WHERE id = $1
	`

	extra, err := marshalExtra(asset.Extra)
	if err != nil {
		return err
	}
	asset.UpdatedAt = time.Now()

	tag, err := r.db.Exec(ctx, query,
		asset.ID,
		asset.Name,
		asset.Status.String(),
		nullString(asset.FolderTag),
		nullString(asset.Primary.AccountID),
		nullString(asset.Primary.RemoteID),
		nullString(asset.Thumbnail.AccountID),
		nullString(asset.Thumbnail.RemoteID),
		nullString(asset.LastError),
		extra,
		asset.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrAssetNotFound
	}

	return nil
}

// StorePrimary sets the primary blob only while none is recorded, so two
// completions of one upload cannot both win.
func (r *AssetRepository) StorePrimary(ctx context.Context, asset *model.Asset) error {
	const query = `
		UPDATE assets
		SET status = $2, primary_account = $3, primary_remote_id = $4, last_error = $5, updated_at = $6
		WHERE id = $1 AND primary_remote_id IS NULL
	`

	asset.UpdatedAt = time.Now()
	tag, err := r.db.Exec(ctx, query,
		asset.ID,
		asset.Status.String(),
		asset.Primary.AccountID,
		asset.Primary.RemoteID,
		nullString(asset.LastError),
		asset.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store primary blob: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, asset.ID); err != nil {
			return err
		}
		return repository.ErrAlreadyStored
	}

	return nil
}

// UpdateStatus updates only the status and last error of an asset.
func (r *AssetRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssetStatus, lastError string) error {
	const query = `
		UPDATE assets
		SET status = $2, last_error = $3, updated_at = $4
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, status.String(), nullString(lastError), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update asset status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrAssetNotFound
	}

	return nil
}

// UpdateThumbnail records the thumbnail blob without touching status.
func (r *AssetRepository) UpdateThumbnail(ctx context.Context, id uuid.UUID, ref model.BlobRef) error {
	const query = `
		UPDATE assets
		SET thumb_account = $2, thumb_remote_id = $3, updated_at = $4
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, nullString(ref.AccountID), nullString(ref.RemoteID), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update asset thumbnail: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrAssetNotFound
	}

	return nil
}

func scanAsset(row rowScanner) (*model.Asset, error) {
	var (
		asset                         model.Asset
		category, status              string
		folderTag, lastError          *string
		primaryAccount, primaryRemote *string
		thumbAccount, thumbRemote     *string
		extra                         []byte
	)

	err := row.Scan(
		&asset.ID,
		&asset.Identifier,
		&asset.Name,
		&category,
		&asset.Size,
		&asset.MediaType,
		&status,
		&folderTag,
		&primaryAccount,
		&primaryRemote,
		&thumbAccount,
		&thumbRemote,
		&lastError,
		&extra,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	asset.Category = model.Category(category)
	asset.Status = model.AssetStatus(status)
	asset.FolderTag = derefString(folderTag)
	asset.LastError = derefString(lastError)
	asset.Primary = model.BlobRef{AccountID: derefString(primaryAccount), RemoteID: derefString(primaryRemote)}
	asset.Thumbnail = model.BlobRef{AccountID: derefString(thumbAccount), RemoteID: derefString(thumbRemote)}

	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &asset.Extra); err != nil {
			return nil, fmt.Errorf("failed to decode asset extra: %w", err)
		}
	}

	return &asset, nil
}

func marshalExtra(extra map[string]string) ([]byte, error) {
	if len(extra) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to encode asset extra: %w", err)
	}
	return b, nil
}

// Compile-time verification that AssetRepository implements repository.AssetRepository.
var _ repository.AssetRepository = (*AssetRepository)(nil)
