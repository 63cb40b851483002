package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediapool/internal/domain/model"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func TestRedisAssetCache_Get_CacheHit(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisAssetCache(client)
	ctx := context.Background()

	asset := &model.Asset{
		ID:         uuid.New(),
		Identifier: "client-key-1",
		Name:       "clip.mp4",
		Category:   model.CategoryVideo,
		Size:       25 << 20,
		MediaType:  "video/mp4",
		Status:     model.AssetStatusReady,
		Primary:    model.BlobRef{AccountID: "acct-a", RemoteID: "obj-1"},
		Extra:      map[string]string{"etag": "abc"},
		CreatedAt:  time.Now().Truncate(time.Microsecond),
		UpdatedAt:  time.Now().Truncate(time.Microsecond),
	}

	if err := cache.Set(ctx, asset, 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected asset, got nil")
	}

	if got.ID != asset.ID {
		t.Errorf("ID = %v, want %v", got.ID, asset.ID)
	}
	if got.Identifier != asset.Identifier {
		t.Errorf("Identifier = %v, want %v", got.Identifier, asset.Identifier)
	}
	if got.Status != asset.Status {
		t.Errorf("Status = %v, want %v", got.Status, asset.Status)
	}
	if got.Primary != asset.Primary {
		t.Errorf("Primary = %v, want %v", got.Primary, asset.Primary)
	}
	if got.Extra["etag"] != "abc" {
		t.Errorf("Extra = %v", got.Extra)
	}
	if !got.CreatedAt.Equal(asset.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, asset.CreatedAt)
	}
}

func TestRedisAssetCache_Get_CacheMiss(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	got, err := NewRedisAssetCache(client).Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for cache miss, got %v", got)
	}
}

func TestRedisAssetCache_Delete(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisAssetCache(client)
	ctx := context.Background()

	asset := &model.Asset{ID: uuid.New(), Name: "a.png", Status: model.AssetStatusProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := cache.Set(ctx, asset, 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Delete(ctx, asset.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := cache.Get(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %v", got)
	}

	// Deleting a missing key is not an error.
	if err := cache.Delete(ctx, uuid.New()); err != nil {
		t.Fatalf("Delete failed for non-existent key: %v", err)
	}
}

func TestRedisAssetCache_TTL(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisAssetCache(client)
	ctx := context.Background()

	asset := &model.Asset{ID: uuid.New(), Name: "a.png", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := cache.Set(ctx, asset, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("expected entry to expire")
	}
}

func TestRedisAssetCache_buildKey(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	assetID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := NewRedisAssetCache(client).buildKey(assetID)

	if key != "asset:550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("buildKey() = %v", key)
	}
}
