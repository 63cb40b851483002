package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

func newReadyVideo(t *testing.T) *model.Asset {
	t.Helper()
	asset, err := model.NewAsset("talk.mp4", 1024, "video/mp4", model.CategoryVideo, "")
	if err != nil {
		t.Fatalf("NewAsset() error = %v", err)
	}
	asset.SetPrimaryBlob(model.BlobRef{AccountID: mockAccountID, RemoteID: "talk-source.mp4"})
	if err := asset.TransitionTo(model.AssetStatusReady); err != nil {
		t.Fatalf("TransitionTo() error = %v", err)
	}
	return asset
}

func TestConversionService_RequestConversion(t *testing.T) {
	ctx := context.Background()
	asset := newReadyVideo(t)
	assets := newMockAssetRepository(asset)
	jobs := newMockJobRepository()
	queue := &mockMessageQueue{}
	svc := NewConversionService(assets, jobs, queue, nil, DefaultConversionServiceConfig())

	got, err := svc.RequestConversion(ctx, ConversionRequest{
		AssetID:     asset.ID,
		Resolutions: []string{"720p", "360p", "720p"},
		Options:     model.EncodeOptions{Preset: "fast"},
	})
	if err != nil {
		t.Fatalf("RequestConversion() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d jobs, want 2", len(got))
	}
	for i, want := range []string{"720p", "360p"} {
		if got[i].Resolution != want || got[i].Status != model.JobStatusWaiting || !got[i].Created {
			t.Errorf("job[%d] = %+v", i, got[i])
		}
	}

	tasks := queue.tasks()
	if len(tasks) != 2 {
		t.Fatalf("published %d tasks, want 2", len(tasks))
	}
	for i, task := range tasks {
		if task.Kind != repository.TaskConvert || task.JobID != got[i].JobID || task.Attempt != 1 {
			t.Errorf("task[%d] = %+v", i, task)
		}
	}

	if status := assets.get(asset.ID).Status; status != model.AssetStatusProcessing {
		t.Errorf("asset status = %v, want processing", status)
	}
}

func TestConversionService_RequestConversion_DuplicateGuard(t *testing.T) {
	ctx := context.Background()
	asset := newReadyVideo(t)

	processing, _ := model.NewConversionJob(asset.ID, "720p", model.EncodeOptions{})
	_ = processing.TransitionTo(model.JobStatusProcessing)
	processing.SetProgress(35)

	ready, _ := model.NewConversionJob(asset.ID, "360p", model.EncodeOptions{})
	_ = ready.TransitionTo(model.JobStatusProcessing)
	_ = ready.TransitionTo(model.JobStatusReady)

	jobs := newMockJobRepository(processing, ready)
	queue := &mockMessageQueue{}
	svc := NewConversionService(newMockAssetRepository(asset), jobs, queue, nil, DefaultConversionServiceConfig())

	got, err := svc.RequestConversion(ctx, ConversionRequest{AssetID: asset.ID, Resolutions: []string{"720p", "360p"}})
	if err != nil {
		t.Fatalf("RequestConversion() error = %v", err)
	}

	if got[0].JobID != processing.ID || got[0].Status != model.JobStatusProcessing || got[0].Progress != 35 || got[0].Created {
		t.Errorf("720p = %+v, want the existing processing job", got[0])
	}
	if got[1].JobID != ready.ID || got[1].Status != model.JobStatusReady || got[1].Created {
		t.Errorf("360p = %+v, want the existing ready job", got[1])
	}
	if len(queue.tasks()) != 0 {
		t.Errorf("no task should be published, got %d", len(queue.tasks()))
	}
	if len(jobs.data) != 2 {
		t.Errorf("job count = %d, want 2", len(jobs.data))
	}
}

func TestConversionService_RequestConversion_Errors(t *testing.T) {
	ctx := context.Background()
	video := newReadyVideo(t)

	image, _ := model.NewAsset("a.png", 10, "image/png", "", "")
	image.SetPrimaryBlob(model.BlobRef{AccountID: mockAccountID, RemoteID: "a.png"})

	uploading, _ := model.NewAsset("b.mp4", 10, "video/mp4", "", "")

	svc := NewConversionService(newMockAssetRepository(video, image, uploading), newMockJobRepository(), &mockMessageQueue{}, nil, DefaultConversionServiceConfig())

	tests := []struct {
		name    string
		req     ConversionRequest
		wantErr error
	}{
		{"no resolutions", ConversionRequest{AssetID: video.ID}, ErrNoResolutions},
		{"unknown resolution", ConversionRequest{AssetID: video.ID, Resolutions: []string{"8k"}}, model.ErrInvalidResolution},
		{"unknown asset", ConversionRequest{AssetID: uuid.New(), Resolutions: []string{"720p"}}, repository.ErrAssetNotFound},
		{"not a video", ConversionRequest{AssetID: image.ID, Resolutions: []string{"720p"}}, ErrNotVideo},
		{"upload not complete", ConversionRequest{AssetID: uploading.ID, Resolutions: []string{"720p"}}, ErrAssetNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RequestConversion(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConversionService_RequestConversion_PublishFailure(t *testing.T) {
	ctx := context.Background()
	asset := newReadyVideo(t)
	jobs := newMockJobRepository()
	queue := &mockMessageQueue{
		publishTaskFn: func(ctx context.Context, task repository.Task) error {
			return errors.New("channel closed")
		},
	}
	svc := NewConversionService(newMockAssetRepository(asset), jobs, queue, nil, DefaultConversionServiceConfig())

	if _, err := svc.RequestConversion(ctx, ConversionRequest{AssetID: asset.ID, Resolutions: []string{"480p"}}); err == nil {
		t.Fatal("expected publish error")
	}

	list, _ := jobs.ListByAsset(ctx, asset.ID)
	if len(list) != 1 || list[0].Status != model.JobStatusFailed || list[0].LastError == "" {
		t.Fatalf("unqueued job should be failed, got %+v", list)
	}
}

func TestConversionService_RetryJob(t *testing.T) {
	ctx := context.Background()
	asset := newReadyVideo(t)

	failed, _ := model.NewConversionJob(asset.ID, "720p", model.EncodeOptions{Preset: "slow"})
	_ = failed.TransitionTo(model.JobStatusProcessing)
	failed.SetProgress(60)
	_ = failed.Fail("ffmpeg exited with status 1")

	assets := newMockAssetRepository(asset)
	assets.data[asset.ID] = func() model.Asset { a := *asset; a.Status = model.AssetStatusFailed; return a }()
	jobs := newMockJobRepository(failed)
	queue := &mockMessageQueue{}
	cache := newMockAssetCache()
	svc := NewConversionService(assets, jobs, queue, cache, DefaultConversionServiceConfig())

	job, err := svc.RetryJob(ctx, failed.ID)
	if err != nil {
		t.Fatalf("RetryJob() error = %v", err)
	}
	if job.ID != failed.ID || job.Status != model.JobStatusWaiting || job.Progress != 0 || job.Attempt != 2 || job.LastError != "" {
		t.Errorf("job = %+v", job)
	}
	if job.Options.Preset != "slow" {
		t.Errorf("options lost on retry: %+v", job.Options)
	}

	tasks := queue.tasks()
	if len(tasks) != 1 || tasks[0].JobID != failed.ID || tasks[0].Attempt != 2 {
		t.Errorf("tasks = %+v", tasks)
	}
	if status := assets.get(asset.ID).Status; status != model.AssetStatusProcessing {
		t.Errorf("asset status = %v, want processing", status)
	}
	if cache.deletes.Load() == 0 {
		t.Error("asset cache should be invalidated")
	}

	if _, err := svc.RetryJob(ctx, failed.ID); !errors.Is(err, ErrJobNotRetryable) {
		t.Errorf("retrying a waiting job: expected ErrJobNotRetryable, got %v", err)
	}
	if _, err := svc.RetryJob(ctx, uuid.New()); !errors.Is(err, repository.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestConversionService_JobsByAsset(t *testing.T) {
	ctx := context.Background()
	asset := newReadyVideo(t)

	ready, _ := model.NewConversionJob(asset.ID, "720p", model.EncodeOptions{})
	_ = ready.TransitionTo(model.JobStatusProcessing)
	_ = ready.TransitionTo(model.JobStatusReady)
	failed, _ := model.NewConversionJob(asset.ID, "360p", model.EncodeOptions{})
	_ = failed.Fail("boom")

	svc := NewConversionService(newMockAssetRepository(asset), newMockJobRepository(ready, failed), &mockMessageQueue{}, nil, DefaultConversionServiceConfig())

	got, err := svc.JobsByAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("JobsByAsset() error = %v", err)
	}
	if got.Status != model.JobStatusReady || len(got.Jobs) != 2 {
		t.Errorf("got status=%v jobs=%d, want ready and 2", got.Status, len(got.Jobs))
	}

	if _, err := svc.JobsByAsset(ctx, uuid.New()); !errors.Is(err, repository.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}

	job, err := svc.GetJob(ctx, ready.ID)
	if err != nil || job.ID != ready.ID {
		t.Errorf("GetJob() = %v, %v", job, err)
	}
}

func TestConversionService_ReapStaleJobs(t *testing.T) {
	ctx := context.Background()
	asset := newReadyVideo(t)
	_ = asset.TransitionTo(model.AssetStatusProcessing)

	abandoned, _ := model.NewConversionJob(asset.ID, "720p", model.EncodeOptions{})
	_ = abandoned.TransitionTo(model.JobStatusProcessing)
	abandoned.UpdatedAt = time.Now().Add(-time.Hour)
	live, _ := model.NewConversionJob(asset.ID, "360p", model.EncodeOptions{})
	_ = live.TransitionTo(model.JobStatusProcessing)

	assets := newMockAssetRepository(asset)
	jobs := newMockJobRepository(abandoned, live)
	queue := &mockMessageQueue{}
	svc := NewConversionService(assets, jobs, queue, nil, ConversionServiceConfig{JobLease: 15 * time.Minute})

	n, err := svc.ReapStaleJobs(ctx)
	if err != nil {
		t.Fatalf("ReapStaleJobs() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ReapStaleJobs() = %d, want 1", n)
	}

	if got := jobs.get(abandoned.ID); got.Status != model.JobStatusFailed || got.LastError != lostWorkerError {
		t.Errorf("abandoned job = %+v", got)
	}
	if got := jobs.get(live.ID); got.Status != model.JobStatusProcessing {
		t.Errorf("live job status = %v, want processing", got.Status)
	}
	// The 360p job is still running, so the asset stays processing.
	if status := assets.get(asset.ID).Status; status != model.AssetStatusProcessing {
		t.Errorf("asset status = %v, want processing", status)
	}

	retried, err := svc.RetryJob(ctx, abandoned.ID)
	if err != nil {
		t.Fatalf("RetryJob() after reap error = %v", err)
	}
	if retried.Status != model.JobStatusWaiting || retried.Attempt != abandoned.Attempt+1 {
		t.Errorf("retried job = %+v", retried)
	}
	if len(queue.tasks()) != 1 {
		t.Errorf("published %d tasks, want 1", len(queue.tasks()))
	}
}

func TestConversionService_ReapStaleJobs_FailsAsset(t *testing.T) {
	ctx := context.Background()
	asset := newReadyVideo(t)
	_ = asset.TransitionTo(model.AssetStatusProcessing)

	abandoned, _ := model.NewConversionJob(asset.ID, "720p", model.EncodeOptions{})
	_ = abandoned.TransitionTo(model.JobStatusProcessing)
	abandoned.UpdatedAt = time.Now().Add(-time.Hour)

	assets := newMockAssetRepository(asset)
	svc := NewConversionService(assets, newMockJobRepository(abandoned), &mockMessageQueue{}, nil, DefaultConversionServiceConfig())

	if _, err := svc.ReapStaleJobs(ctx); err != nil {
		t.Fatalf("ReapStaleJobs() error = %v", err)
	}
	if status := assets.get(asset.ID).Status; status != model.AssetStatusFailed {
		t.Errorf("asset status = %v, want failed", status)
	}
}
