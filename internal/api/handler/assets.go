package handler

import (
	"net/http"
	"time"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/usecase"
)

type AssetResponse struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier,omitempty"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Size       int64     `json:"size"`
	MediaType  string    `json:"mediaType"`
	Status     string    `json:"status"`
	FolderTag  string    `json:"folderTag,omitempty"`
	Blob       string    `json:"blob,omitempty"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AssetHandler exposes asset metadata.
type AssetHandler struct {
	svc usecase.AssetService
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(svc usecase.AssetService) *AssetHandler {
	return &AssetHandler{svc: svc}
}

// Get handles GET /assets/{assetId}
func (h *AssetHandler) Get(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseAssetParam(w, r)
	if !ok {
		return
	}

	asset, err := h.svc.GetAsset(r.Context(), assetID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	Success(w, http.StatusOK, toAssetResponse(asset))
}

func toAssetResponse(a *model.Asset) AssetResponse {
	resp := AssetResponse{
		ID:         a.ID.String(),
		Identifier: a.Identifier,
		Name:       a.Name,
		Category:   string(a.Category),
		Size:       a.Size,
		MediaType:  a.MediaType,
		Status:     a.Status.String(),
		FolderTag:  a.FolderTag,
		LastError:  a.LastError,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
	if !a.Primary.IsZero() {
		resp.Blob = a.Primary.String()
	}
	if !a.Thumbnail.IsZero() {
		resp.Thumbnail = a.Thumbnail.String()
	}
	return resp
}
