package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRedisManifestCache_SetGet(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisManifestCache(client)
	ctx := context.Background()
	assetID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	if _, ok, err := cache.Get(ctx, assetID, "720p"); err != nil || ok {
		t.Fatalf("Get() on empty cache = ok %v, err %v", ok, err)
	}

	if err := cache.Set(ctx, assetID, "720p", "#EXTM3U\n", 24*time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !mr.Exists("manifest:550e8400-e29b-41d4-a716-446655440000:720p") {
		t.Error("expected manifest key in redis")
	}
	if ttl := mr.TTL("manifest:550e8400-e29b-41d4-a716-446655440000:720p"); ttl != 24*time.Hour {
		t.Errorf("TTL = %v, want 24h", ttl)
	}

	text, ok, err := cache.Get(ctx, assetID, "720p")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if text != "#EXTM3U\n" {
		t.Errorf("Get() = %q", text)
	}
}

func TestRedisManifestCache_MasterKey(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	assetID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	if err := NewRedisManifestCache(client).Set(context.Background(), assetID, "", "#EXTM3U\n", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !mr.Exists("manifest:550e8400-e29b-41d4-a716-446655440000:master") {
		t.Error("expected master playlist key")
	}
}

func TestRedisManifestCache_Invalidate(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisManifestCache(client)
	ctx := context.Background()
	target := uuid.New()
	other := uuid.New()

	for _, res := range []string{"", "360p", "720p"} {
		if err := cache.Set(ctx, target, res, "x", time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := cache.Set(ctx, other, "720p", "y", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := cache.Invalidate(ctx, target); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	for _, res := range []string{"", "360p", "720p"} {
		if _, ok, _ := cache.Get(ctx, target, res); ok {
			t.Errorf("resolution %q still cached after invalidation", res)
		}
	}
	if _, ok, _ := cache.Get(ctx, other, "720p"); !ok {
		t.Error("other asset's manifest must survive invalidation")
	}
	if n := len(mr.Keys()); n != 1 {
		t.Errorf("redis holds %d keys, want 1", n)
	}

	// Invalidating an asset with nothing cached is not an error.
	if err := cache.Invalidate(ctx, uuid.New()); err != nil {
		t.Errorf("Invalidate on empty asset: %v", err)
	}
}
