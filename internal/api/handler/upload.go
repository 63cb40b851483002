package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/usecase"
)

const chunkChecksumHeader = "X-Chunk-Sha256"

// Request/Response types

type InitUploadRequest struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MediaType  string `json:"mediaType"`
	Category   string `json:"category"`
	FolderTag  string `json:"folderTag"`
	Identifier string `json:"identifier"`
}

type InitUploadResponse struct {
	UploadID     string `json:"uploadId"`
	Status       string `json:"status"`
	Deduplicated bool   `json:"deduplicated"`
}

type UploadIDRequest struct {
	UploadID string `json:"uploadId"`
}

type ChunkResponse struct {
	UploadID string `json:"uploadId"`
	Index    int    `json:"index"`
	Size     int64  `json:"size"`
}

type CompleteUploadResponse struct {
	AssetID   string `json:"assetId"`
	AccountID string `json:"accountId"`
	RemoteID  string `json:"remoteId"`
	Status    string `json:"status"`
}

// UploadLimits bounds request bodies.
type UploadLimits struct {
	MaxChunkBytes int64
	MaxFileBytes  int64
}

// UploadHandler handles upload-related HTTP requests.
type UploadHandler struct {
	svc    usecase.UploadService
	limits UploadLimits
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(svc usecase.UploadService, limits UploadLimits) *UploadHandler {
	return &UploadHandler{svc: svc, limits: limits}
}

// Init handles POST /upload/init
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req InitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	out, err := h.svc.InitUpload(r.Context(), usecase.InitUploadInput{
		Name:       req.Name,
		Size:       req.Size,
		MediaType:  req.MediaType,
		Category:   model.Category(req.Category),
		FolderTag:  req.FolderTag,
		Identifier: req.Identifier,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if out.Deduplicated {
		status = http.StatusOK
	}
	Success(w, status, InitUploadResponse{
		UploadID:     out.UploadID.String(),
		Status:       out.Asset.Status.String(),
		Deduplicated: out.Deduplicated,
	})
}

// Chunk handles POST /upload/chunk
//
// The chunk is either a multipart form with uploadId, index and a "chunk"
// file part, or a raw body with uploadId and index in the query string.
// An optional hex sha256 is read from the X-Chunk-Sha256 header.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	if h.limits.MaxChunkBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxChunkBytes)
	}

	in := usecase.ChunkInput{SHA256: r.Header.Get(chunkChecksumHeader)}
	var rawID, rawIndex string

	if isMultipart(r) {
		mr, err := r.MultipartReader()
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid_request", "Invalid multipart body")
			return
		}
		// Fields must precede the file part so it can be streamed.
		for {
			part, err := mr.NextPart()
			if err != nil {
				Error(w, http.StatusBadRequest, "invalid_request", "Missing chunk part")
				return
			}
			if part.FormName() == "chunk" {
				in.Body = part
				break
			}
			value := readField(part)
			switch part.FormName() {
			case "uploadId":
				rawID = value
			case "index":
				rawIndex = value
			case "sha256":
				in.SHA256 = value
			}
		}
	} else {
		rawID = r.URL.Query().Get("uploadId")
		rawIndex = r.URL.Query().Get("index")
		in.Body = r.Body
	}

	uploadID, err := uuid.Parse(rawID)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_upload_id", "Upload ID must be a valid UUID")
		return
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil || index < 0 {
		Error(w, http.StatusBadRequest, "invalid_index", "Index must be a non-negative integer")
		return
	}
	in.UploadID = uploadID
	in.Index = index

	n, err := h.svc.AcceptChunk(r.Context(), in)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "chunk_too_large", "Chunk exceeds the size limit")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	Success(w, http.StatusOK, ChunkResponse{UploadID: uploadID.String(), Index: index, Size: n})
}

// Complete handles POST /upload/complete
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	uploadID, ok := decodeUploadID(w, r)
	if !ok {
		return
	}

	asset, err := h.svc.CompleteUpload(r.Context(), uploadID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	Success(w, http.StatusOK, toCompleteResponse(asset))
}

// File handles POST /upload/file, the single-request path for small files.
func (h *UploadHandler) File(w http.ResponseWriter, r *http.Request) {
	if h.limits.MaxFileBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxFileBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "file_too_large", "File exceeds the size limit")
			return
		}
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Missing file part")
		return
	}
	defer func() { _ = file.Close() }()

	name := firstNonEmpty(r.FormValue("name"), header.Filename)
	mediaType := firstNonEmpty(r.FormValue("mediaType"), header.Header.Get("Content-Type"))

	asset, err := h.svc.UploadFile(r.Context(), usecase.InitUploadInput{
		Name:       name,
		Size:       header.Size,
		MediaType:  mediaType,
		Category:   model.Category(r.FormValue("category")),
		FolderTag:  r.FormValue("folderTag"),
		Identifier: r.FormValue("identifier"),
	}, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	Success(w, http.StatusCreated, toCompleteResponse(asset))
}

// Abort handles POST /upload/abort
func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	uploadID, ok := decodeUploadID(w, r)
	if !ok {
		return
	}

	if err := h.svc.AbortUpload(r.Context(), uploadID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	Success(w, http.StatusOK, map[string]string{"uploadId": uploadID.String()})
}

// Import handles GET /upload/import
func (h *UploadHandler) Import(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	remoteID := q.Get("remoteId")
	if remoteID == "" {
		Error(w, http.StatusBadRequest, "invalid_remote_id", "remoteId is required")
		return
	}

	asset, err := h.svc.Import(r.Context(), usecase.ImportInput{
		RemoteID:  remoteID,
		Name:      firstNonEmpty(q.Get("name"), remoteID),
		MediaType: q.Get("mediaType"),
		Category:  model.Category(q.Get("category")),
		FolderTag: q.Get("folderTag"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	Success(w, http.StatusOK, map[string]string{"assetId": asset.ID.String()})
}

func decodeUploadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var req UploadIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(req.UploadID)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_upload_id", "Upload ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func toCompleteResponse(a *model.Asset) CompleteUploadResponse {
	return CompleteUploadResponse{
		AssetID:   a.ID.String(),
		AccountID: a.Primary.AccountID,
		RemoteID:  a.Primary.RemoteID,
		Status:    a.Status.String(),
	}
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readField reads a small form value.
func readField(part io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(part, 1024))
	return strings.TrimSpace(string(data))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
