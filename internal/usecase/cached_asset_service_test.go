package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

// mockAssetService is a mock implementation of AssetService for testing.
type mockAssetService struct {
	getAssetFn    func(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)
	getAssetCount atomic.Int32
}

func (m *mockAssetService) GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	m.getAssetCount.Add(1)
	if m.getAssetFn != nil {
		return m.getAssetFn(ctx, assetID)
	}
	return nil, repository.ErrAssetNotFound
}

func testAsset(status model.AssetStatus) *model.Asset {
	return &model.Asset{
		ID:        uuid.New(),
		Name:      "clip.mp4",
		Category:  model.CategoryVideo,
		Size:      1024,
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestCachedAssetService_GetAsset_CacheHit(t *testing.T) {
	cached := testAsset(model.AssetStatusReady)

	mockSvc := &mockAssetService{}
	mockCache := newMockAssetCache()
	mockCache.data[cached.ID] = cached

	svc := NewCachedAssetService(mockSvc, mockCache, DefaultCachedAssetServiceConfig())

	got, err := svc.GetAsset(context.Background(), cached.ID)
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if got.ID != cached.ID {
		t.Errorf("ID = %v, want %v", got.ID, cached.ID)
	}
	if mockSvc.getAssetCount.Load() != 0 {
		t.Errorf("delegate GetAsset called %d times, want 0", mockSvc.getAssetCount.Load())
	}

	// Mutating the result must not leak into the cache.
	got.Status = model.AssetStatusFailed
	if cached.Status != model.AssetStatusReady {
		t.Error("cached asset was mutated through the returned value")
	}
}

func TestCachedAssetService_GetAsset_CacheMiss(t *testing.T) {
	dbAsset := testAsset(model.AssetStatusReady)

	var gotTTL time.Duration
	mockSvc := &mockAssetService{
		getAssetFn: func(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
			return dbAsset, nil
		},
	}
	mockCache := newMockAssetCache()
	mockCache.setFn = func(ctx context.Context, asset *model.Asset, ttl time.Duration) error {
		gotTTL = ttl
		mockCache.data[asset.ID] = asset
		return nil
	}

	svc := NewCachedAssetService(mockSvc, mockCache, CachedAssetServiceConfig{CacheTTL: 10 * time.Minute})

	if _, err := svc.GetAsset(context.Background(), dbAsset.ID); err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if mockSvc.getAssetCount.Load() != 1 {
		t.Errorf("delegate GetAsset called %d times, want 1", mockSvc.getAssetCount.Load())
	}
	if mockCache.data[dbAsset.ID] == nil {
		t.Error("asset was not cached after cache miss")
	}
	if gotTTL != 10*time.Minute {
		t.Errorf("TTL = %v, want 10m", gotTTL)
	}
}

func TestCachedAssetService_GetAsset_ShortTTLWhileProcessing(t *testing.T) {
	dbAsset := testAsset(model.AssetStatusProcessing)

	var gotTTL time.Duration
	mockSvc := &mockAssetService{
		getAssetFn: func(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
			return dbAsset, nil
		},
	}
	mockCache := newMockAssetCache()
	mockCache.setFn = func(ctx context.Context, asset *model.Asset, ttl time.Duration) error {
		gotTTL = ttl
		return nil
	}

	svc := NewCachedAssetService(mockSvc, mockCache, DefaultCachedAssetServiceConfig())
	if _, err := svc.GetAsset(context.Background(), dbAsset.ID); err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if gotTTL != 30*time.Second {
		t.Errorf("TTL = %v, want 30s", gotTTL)
	}
}

func TestCachedAssetService_GetAsset_NotFound(t *testing.T) {
	mockCache := newMockAssetCache()
	svc := NewCachedAssetService(&mockAssetService{}, mockCache, DefaultCachedAssetServiceConfig())

	_, err := svc.GetAsset(context.Background(), uuid.New())
	if !errors.Is(err, repository.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
	if len(mockCache.data) != 0 {
		t.Error("missing assets must not be cached")
	}
}

func TestCachedAssetService_GetAsset_Singleflight(t *testing.T) {
	asset := testAsset(model.AssetStatusReady)

	// Add delay to simulate slow DB query
	mockSvc := &mockAssetService{
		getAssetFn: func(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
			time.Sleep(50 * time.Millisecond)
			return asset, nil
		},
	}
	svc := NewCachedAssetService(mockSvc, newMockAssetCache(), DefaultCachedAssetServiceConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.GetAsset(context.Background(), asset.ID); err != nil {
				t.Errorf("GetAsset failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if callCount := mockSvc.getAssetCount.Load(); callCount != 1 {
		t.Errorf("delegate GetAsset called %d times, want 1 (singleflight should coalesce)", callCount)
	}
}

func TestCachedAssetService_GetAsset_CacheErrorFallsBackToDB(t *testing.T) {
	dbAsset := testAsset(model.AssetStatusReady)

	mockSvc := &mockAssetService{
		getAssetFn: func(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
			return dbAsset, nil
		},
	}
	mockCache := &mockAssetCache{
		getFn: func(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
			return nil, errors.New("redis connection error")
		},
		setFn: func(ctx context.Context, asset *model.Asset, ttl time.Duration) error {
			return errors.New("redis connection error")
		},
	}

	svc := NewCachedAssetService(mockSvc, mockCache, DefaultCachedAssetServiceConfig())

	got, err := svc.GetAsset(context.Background(), dbAsset.ID)
	if err != nil {
		t.Fatalf("GetAsset should not fail on cache error: %v", err)
	}
	if got.ID != dbAsset.ID {
		t.Errorf("ID = %v, want %v", got.ID, dbAsset.ID)
	}
}

func TestUploadService_InvalidatesAssetCache(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t)

	started, _ := f.svc.InitUpload(ctx, InitUploadInput{Name: "a.txt", Size: 1, MediaType: "text/plain"})
	f.cache.data[started.UploadID] = started.Asset

	_, _ = f.svc.AcceptChunk(ctx, ChunkInput{UploadID: started.UploadID, Index: 0, Body: stringReader("x")})
	if _, err := f.svc.CompleteUpload(ctx, started.UploadID); err != nil {
		t.Fatalf("CompleteUpload() error = %v", err)
	}
	if f.cache.data[started.UploadID] != nil {
		t.Error("stale processing asset left in cache after completion")
	}
}
