package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hszk-dev/mediapool/internal/api/middleware"
	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
	"github.com/hszk-dev/mediapool/internal/usecase"
)

// errorMappings ties a sentinel error to its HTTP status and code.
// Order matters: wrapped combinations match the first entry.
var errorMappings = []struct {
	err    error
	status int
	code   string
}{
	{repository.ErrAssetNotFound, http.StatusNotFound, "asset_not_found"},
	{repository.ErrJobNotFound, http.StatusNotFound, "job_not_found"},
	{repository.ErrSegmentNotFound, http.StatusNotFound, "segment_not_found"},
	{repository.ErrUploadNotFound, http.StatusNotFound, "upload_not_found"},
	{repository.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{repository.ErrBlobNotFound, http.StatusNotFound, "blob_not_found"},
	{repository.ErrNoSegments, http.StatusNotFound, "no_segments"},
	{repository.ErrIncompleteUpload, http.StatusConflict, "incomplete_upload"},
	{repository.ErrChunkChecksum, http.StatusBadRequest, "chunk_checksum_mismatch"},
	{repository.ErrUploadFailed, http.StatusBadGateway, "upload_failed"},
	{repository.ErrDownloadFailed, http.StatusBadGateway, "download_failed"},
	{repository.ErrPoolExhausted, http.StatusInsufficientStorage, "pool_exhausted"},
	{repository.ErrDuplicateAsset, http.StatusConflict, "duplicate_asset"},
	{usecase.ErrUploadClosed, http.StatusConflict, "upload_closed"},
	{usecase.ErrAssetNotReady, http.StatusConflict, "asset_not_ready"},
	{usecase.ErrJobNotRetryable, http.StatusConflict, "job_not_retryable"},
	{usecase.ErrNotVideo, http.StatusBadRequest, "not_a_video"},
	{usecase.ErrNoResolutions, http.StatusBadRequest, "invalid_resolutions"},
	{model.ErrInvalidResolution, http.StatusBadRequest, "invalid_resolutions"},
	{model.ErrEmptyName, http.StatusBadRequest, "invalid_name"},
	{model.ErrNameTooLong, http.StatusBadRequest, "invalid_name"},
	{model.ErrInvalidSize, http.StatusBadRequest, "invalid_size"},
	{model.ErrInvalidCategory, http.StatusBadRequest, "invalid_category"},
	{model.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
}

// writeServiceError maps a service error onto the failure envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			Error(w, m.status, m.code, err.Error())
			return
		}
	}

	slog.Error("request failed",
		"request_id", middleware.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}
