package handler

import (
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/usecase"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
)

// StreamHandler serves HLS playlists and segments.
type StreamHandler struct {
	svc usecase.StreamService
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(svc usecase.StreamService) *StreamHandler {
	return &StreamHandler{svc: svc}
}

// Manifest handles GET /stream/manifest/{assetId}?resolution=
func (h *StreamHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseAssetParam(w, r)
	if !ok {
		return
	}

	text, err := h.svc.BuildManifest(r.Context(), assetID, r.URL.Query().Get("resolution"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writePlaylist(w, text)
}

// Master handles GET /stream/master/{assetId}
func (h *StreamHandler) Master(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseAssetParam(w, r)
	if !ok {
		return
	}

	text, err := h.svc.BuildMasterManifest(r.Context(), assetID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writePlaylist(w, text)
}

// Segment handles GET /stream/segment?segmentId=
func (h *StreamHandler) Segment(w http.ResponseWriter, r *http.Request) {
	segmentID, err := uuid.Parse(r.URL.Query().Get("segmentId"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_segment_id", "Segment ID must be a valid UUID")
		return
	}

	f, err := h.openSegment(r, segmentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// openSegment fetches and opens a cached segment. A sweep may evict the file
// between the fetch and the open, in which case it is fetched once more.
func (h *StreamHandler) openSegment(r *http.Request, segmentID uuid.UUID) (*os.File, error) {
	path, err := h.svc.FetchSegment(r.Context(), segmentID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if !errors.Is(err, fs.ErrNotExist) {
		return f, err
	}

	path, err = h.svc.FetchSegment(r.Context(), segmentID)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func writePlaylist(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func parseAssetParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "assetId"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_asset_id", "Asset ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
