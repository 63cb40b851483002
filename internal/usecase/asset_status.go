package usecase

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
	"github.com/hszk-dev/mediapool/internal/infrastructure/cache"
)

// refreshAssetStatus moves the asset to ready once any job succeeded and
// none is pending, or to failed once all jobs failed.
func refreshAssetStatus(
	ctx context.Context,
	assets repository.AssetRepository,
	jobRepo repository.JobRepository,
	assetCache cache.AssetCache,
	assetID uuid.UUID,
) {
	jobs, err := jobRepo.ListByAsset(ctx, assetID)
	if err != nil {
		slog.Warn("failed to list jobs for status refresh", "asset_id", assetID, "error", err)
		return
	}

	var next model.AssetStatus
	var reason string
	switch model.AggregateStatus(jobs) {
	case model.JobStatusReady:
		next = model.AssetStatusReady
	case model.JobStatusFailed:
		next = model.AssetStatusFailed
		reason = lastJobError(jobs)
	default:
		return
	}

	asset, err := assets.GetByID(ctx, assetID)
	if err != nil {
		slog.Warn("failed to load asset for status refresh", "asset_id", assetID, "error", err)
		return
	}
	if asset.Status == next {
		return
	}
	if err := asset.TransitionTo(next); err != nil {
		slog.Warn("asset status not refreshed",
			"asset_id", assetID,
			"from", asset.Status,
			"to", next,
		)
		return
	}

	if err := assets.UpdateStatus(ctx, assetID, next, reason); err != nil {
		slog.Error("failed to update asset status", "asset_id", assetID, "status", next, "error", err)
		return
	}
	invalidateAsset(ctx, assetCache, assetID)
}

func lastJobError(jobs []*model.ConversionJob) string {
	for _, j := range jobs {
		if j.LastError != "" {
			return j.Resolution + ": " + j.LastError
		}
	}
	return "all conversions failed"
}
