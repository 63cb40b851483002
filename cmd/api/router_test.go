package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hszk-dev/mediapool/internal/api/handler"
)

func testRouter(rateLimit int) http.Handler {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	return setupRouter(logger, routes{
		uploads:  handler.NewUploadHandler(nil, handler.UploadLimits{}),
		jobs:     handler.NewJobHandler(nil),
		stream:   handler.NewStreamHandler(nil),
		assets:   handler.NewAssetHandler(nil),
		accounts: handler.NewAccountHandler(nil, nil),
		checks: map[string]handler.PingFunc{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("down") },
		},
		uploadRateLimit: rateLimit,
	})
}

func TestRouter_Routes(t *testing.T) {
	r := testRouter(0)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusServiceUnavailable},
		{http.MethodGet, "/metrics", http.StatusOK},
		// Requests below fail validation before reaching a service.
		{http.MethodPost, "/upload/chunk?uploadId=x&index=0", http.StatusBadRequest},
		{http.MethodGet, "/upload/import", http.StatusBadRequest},
		{http.MethodGet, "/jobs/status?jobId=x", http.StatusBadRequest},
		{http.MethodGet, "/jobs/by-asset", http.StatusBadRequest},
		{http.MethodGet, "/stream/manifest/not-a-uuid", http.StatusBadRequest},
		{http.MethodGet, "/stream/master/not-a-uuid", http.StatusBadRequest},
		{http.MethodGet, "/stream/segment?segmentId=x", http.StatusBadRequest},
		{http.MethodGet, "/assets/not-a-uuid", http.StatusBadRequest},
		{http.MethodGet, "/upload/init", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRouter_UploadRateLimit(t *testing.T) {
	r := testRouter(1)

	send := func(path string) int {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	if got := send("/upload/import"); got != http.StatusBadRequest {
		t.Fatalf("expected first upload request to pass the limiter, got %d", got)
	}
	if got := send("/upload/import"); got != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", got)
	}
	if got := send("/health"); got != http.StatusOK {
		t.Errorf("expected non-upload routes to be unlimited, got %d", got)
	}
}
