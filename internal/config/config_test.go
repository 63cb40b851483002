package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pool.ReserveMargin != 0.10 || cfg.Pool.ComfortMargin != 0.50 {
		t.Errorf("unexpected margins: %+v", cfg.Pool)
	}
	if cfg.Pool.RetryAttempts != 5 || cfg.Pool.RetryBaseDelay != 200*time.Millisecond || cfg.Pool.RetryMaxDelay != 10*time.Second {
		t.Errorf("unexpected retry settings: %+v", cfg.Pool)
	}
	if cfg.Stream.SegmentTTL != 7*24*time.Hour || cfg.Stream.ManifestTTL != 24*time.Hour {
		t.Errorf("unexpected stream TTLs: %+v", cfg.Stream)
	}
	if cfg.Upload.StaleAfter != 24*time.Hour {
		t.Errorf("unexpected stale threshold: %v", cfg.Upload.StaleAfter)
	}
	if cfg.Worker.JobLease != 15*time.Minute {
		t.Errorf("expected job lease 15m, got %v", cfg.Worker.JobLease)
	}
	if cfg.Worker.Concurrency != 2 {
		t.Errorf("expected worker concurrency 2, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Transcode.SegmentDuration != 10 {
		t.Errorf("expected segment duration 10, got %d", cfg.Transcode.SegmentDuration)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("STREAM_BASE_URL", "https://media.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got, want := cfg.Database.DSN(), "postgres://u:p@db:5432/mediapool?sslmode=disable"; got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
	if got := cfg.Redis.Addr(); got != "localhost:6380" {
		t.Errorf("Addr() = %q", got)
	}
	if cfg.Stream.BaseURL != "https://media.example.com" {
		t.Errorf("unexpected base URL %q", cfg.Stream.BaseURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"reserve margin above one", "POOL_RESERVE_MARGIN", "1.5"},
		{"comfort below reserve", "POOL_COMFORT_MARGIN", "0.05"},
		{"zero concurrency", "WORKER_CONCURRENCY", "0"},
		{"job lease too short", "WORKER_JOB_LEASE", "10s"},
		{"malformed duration", "UPLOAD_STALE_AFTER", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
