package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/usecase"
)

// Request/Response types

type ConvertRequest struct {
	AssetID     string              `json:"assetId"`
	Resolutions []string            `json:"resolutions"`
	Options     model.EncodeOptions `json:"options"`
}

type ConvertResponse struct {
	AssetID string               `json:"assetId"`
	Jobs    []usecase.JobSummary `json:"jobs"`
}

type JobIDRequest struct {
	JobID string `json:"jobId"`
}

type JobResponse struct {
	JobID       string     `json:"jobId"`
	AssetID     string     `json:"assetId"`
	Resolution  string     `json:"resolution"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Attempt     int        `json:"attempt"`
	LastError   string     `json:"lastError,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type AssetJobsResponse struct {
	AssetID string        `json:"assetId"`
	Status  string        `json:"status"`
	Jobs    []JobResponse `json:"jobs"`
}

// JobHandler handles conversion job HTTP requests.
type JobHandler struct {
	svc usecase.ConversionService
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(svc usecase.ConversionService) *JobHandler {
	return &JobHandler{svc: svc}
}

// Convert handles POST /jobs/convert
func (h *JobHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	assetID, err := uuid.Parse(req.AssetID)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_asset_id", "Asset ID must be a valid UUID")
		return
	}

	jobs, err := h.svc.RequestConversion(r.Context(), usecase.ConversionRequest{
		AssetID:     assetID,
		Resolutions: req.Resolutions,
		Options:     req.Options,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	for _, j := range jobs {
		if j.Created {
			status = http.StatusAccepted
			break
		}
	}
	Success(w, status, ConvertResponse{AssetID: assetID.String(), Jobs: jobs})
}

// Status handles GET /jobs/status?jobId=
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.URL.Query().Get("jobId"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_job_id", "Job ID must be a valid UUID")
		return
	}

	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	Success(w, http.StatusOK, toJobResponse(job))
}

// ByAsset handles GET /jobs/by-asset?assetId=
func (h *JobHandler) ByAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := uuid.Parse(r.URL.Query().Get("assetId"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_asset_id", "Asset ID must be a valid UUID")
		return
	}

	out, err := h.svc.JobsByAsset(r.Context(), assetID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := AssetJobsResponse{
		AssetID: out.AssetID.String(),
		Status:  out.Status.String(),
		Jobs:    make([]JobResponse, 0, len(out.Jobs)),
	}
	for _, j := range out.Jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	Success(w, http.StatusOK, resp)
}

// Retry handles POST /jobs/retry
func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	var req JobIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_job_id", "Job ID must be a valid UUID")
		return
	}

	job, err := h.svc.RetryJob(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	Success(w, http.StatusAccepted, toJobResponse(job))
}

func toJobResponse(j *model.ConversionJob) JobResponse {
	return JobResponse{
		JobID:       j.ID.String(),
		AssetID:     j.AssetID.String(),
		Resolution:  j.Resolution,
		Status:      j.Status.String(),
		Progress:    j.Progress,
		Attempt:     j.Attempt,
		LastError:   j.LastError,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}
