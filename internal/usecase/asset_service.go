package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

// AssetService reads asset records.
type AssetService interface {
	// GetAsset retrieves an asset by ID.
	GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)
}

type assetService struct {
	repo repository.AssetRepository
}

// NewAssetService creates a new AssetService instance.
func NewAssetService(repo repository.AssetRepository) AssetService {
	return &assetService{repo: repo}
}

// GetAsset retrieves an asset by ID.
func (s *assetService) GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	return s.repo.GetByID(ctx, assetID)
}
