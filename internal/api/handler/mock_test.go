package handler

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/pool"
	"github.com/hszk-dev/mediapool/internal/usecase"
)

// Mock UploadService

type mockUploadService struct {
	initUploadFn  func(ctx context.Context, input usecase.InitUploadInput) (*usecase.InitUploadOutput, error)
	acceptChunkFn func(ctx context.Context, input usecase.ChunkInput) (int64, error)
	completeFn    func(ctx context.Context, uploadID uuid.UUID) (*model.Asset, error)
	uploadFileFn  func(ctx context.Context, input usecase.InitUploadInput, body io.Reader) (*model.Asset, error)
	abortFn       func(ctx context.Context, uploadID uuid.UUID) error
	importFn      func(ctx context.Context, input usecase.ImportInput) (*model.Asset, error)
}

func (m *mockUploadService) InitUpload(ctx context.Context, input usecase.InitUploadInput) (*usecase.InitUploadOutput, error) {
	if m.initUploadFn != nil {
		return m.initUploadFn(ctx, input)
	}
	return nil, nil
}

func (m *mockUploadService) AcceptChunk(ctx context.Context, input usecase.ChunkInput) (int64, error) {
	if m.acceptChunkFn != nil {
		return m.acceptChunkFn(ctx, input)
	}
	return io.Copy(io.Discard, input.Body)
}

func (m *mockUploadService) CompleteUpload(ctx context.Context, uploadID uuid.UUID) (*model.Asset, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, uploadID)
	}
	return nil, nil
}

func (m *mockUploadService) UploadFile(ctx context.Context, input usecase.InitUploadInput, body io.Reader) (*model.Asset, error) {
	if m.uploadFileFn != nil {
		return m.uploadFileFn(ctx, input, body)
	}
	return nil, nil
}

func (m *mockUploadService) AbortUpload(ctx context.Context, uploadID uuid.UUID) error {
	if m.abortFn != nil {
		return m.abortFn(ctx, uploadID)
	}
	return nil
}

func (m *mockUploadService) Import(ctx context.Context, input usecase.ImportInput) (*model.Asset, error) {
	if m.importFn != nil {
		return m.importFn(ctx, input)
	}
	return nil, nil
}

func (m *mockUploadService) PurgeStale(context.Context) (int, error) {
	return 0, nil
}

// Mock ConversionService

type mockConversionService struct {
	requestFn     func(ctx context.Context, req usecase.ConversionRequest) ([]usecase.JobSummary, error)
	retryFn       func(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error)
	getJobFn      func(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error)
	jobsByAssetFn func(ctx context.Context, assetID uuid.UUID) (*usecase.AssetJobs, error)
}

func (m *mockConversionService) RequestConversion(ctx context.Context, req usecase.ConversionRequest) ([]usecase.JobSummary, error) {
	if m.requestFn != nil {
		return m.requestFn(ctx, req)
	}
	return nil, nil
}

func (m *mockConversionService) RetryJob(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error) {
	if m.retryFn != nil {
		return m.retryFn(ctx, jobID)
	}
	return nil, nil
}

func (m *mockConversionService) GetJob(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error) {
	if m.getJobFn != nil {
		return m.getJobFn(ctx, jobID)
	}
	return nil, nil
}

func (m *mockConversionService) JobsByAsset(ctx context.Context, assetID uuid.UUID) (*usecase.AssetJobs, error) {
	if m.jobsByAssetFn != nil {
		return m.jobsByAssetFn(ctx, assetID)
	}
	return nil, nil
}

func (m *mockConversionService) ReapStaleJobs(context.Context) (int, error) {
	return 0, nil
}

// Mock StreamService

type mockStreamService struct {
	manifestFn func(ctx context.Context, assetID uuid.UUID, resolution string) (string, error)
	masterFn   func(ctx context.Context, assetID uuid.UUID) (string, error)
	segmentFn  func(ctx context.Context, segmentID uuid.UUID) (string, error)
}

func (m *mockStreamService) BuildManifest(ctx context.Context, assetID uuid.UUID, resolution string) (string, error) {
	if m.manifestFn != nil {
		return m.manifestFn(ctx, assetID, resolution)
	}
	return "", nil
}

func (m *mockStreamService) BuildMasterManifest(ctx context.Context, assetID uuid.UUID) (string, error) {
	if m.masterFn != nil {
		return m.masterFn(ctx, assetID)
	}
	return "", nil
}

func (m *mockStreamService) FetchSegment(ctx context.Context, segmentID uuid.UUID) (string, error) {
	if m.segmentFn != nil {
		return m.segmentFn(ctx, segmentID)
	}
	return "", nil
}

// Mock AssetService

type mockAssetService struct {
	getAssetFn func(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)
}

func (m *mockAssetService) GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	if m.getAssetFn != nil {
		return m.getAssetFn(ctx, assetID)
	}
	return nil, nil
}

// Mock pool admin

type mockPoolAdmin struct {
	usageFn     func(ctx context.Context) ([]pool.AccountUsage, error)
	reconcileFn func(ctx context.Context) error
	reloadFn    func(ctx context.Context) (pool.ReloadResult, error)
}

func (m *mockPoolAdmin) Usage(ctx context.Context) ([]pool.AccountUsage, error) {
	if m.usageFn != nil {
		return m.usageFn(ctx)
	}
	return nil, nil
}

func (m *mockPoolAdmin) ReconcileUsage(ctx context.Context) error {
	if m.reconcileFn != nil {
		return m.reconcileFn(ctx)
	}
	return nil
}

func (m *mockPoolAdmin) Reload(ctx context.Context) (pool.ReloadResult, error) {
	if m.reloadFn != nil {
		return m.reloadFn(ctx)
	}
	return pool.ReloadResult{}, nil
}

// decodeEnvelope unmarshals a response envelope with its data into out.
func decodeEnvelope(body []byte, out any) (Envelope, error) {
	env := Envelope{Data: out}
	err := json.Unmarshal(body, &env)
	return env, err
}
