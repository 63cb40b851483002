package main

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hszk-dev/mediapool/internal/api/handler"
	"github.com/hszk-dev/mediapool/internal/api/middleware"
)

type routes struct {
	uploads  *handler.UploadHandler
	jobs     *handler.JobHandler
	stream   *handler.StreamHandler
	assets   *handler.AssetHandler
	accounts *handler.AccountHandler
	checks   map[string]handler.PingFunc

	uploadRateLimit int
}

func setupRouter(logger *slog.Logger, rt routes) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", handler.Health)
	r.Get("/ready", handler.Readiness(rt.checks, 2*time.Second))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/upload", func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestLimit: rt.uploadRateLimit,
			WindowSize:   time.Minute,
		}))
		r.Post("/init", rt.uploads.Init)
		r.Post("/chunk", rt.uploads.Chunk)
		r.Post("/complete", rt.uploads.Complete)
		r.Post("/file", rt.uploads.File)
		r.Post("/abort", rt.uploads.Abort)
		r.Get("/import", rt.uploads.Import)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/convert", rt.jobs.Convert)
		r.Get("/status", rt.jobs.Status)
		r.Get("/by-asset", rt.jobs.ByAsset)
		r.Post("/retry", rt.jobs.Retry)
	})

	r.Route("/stream", func(r chi.Router) {
		r.Get("/manifest/{assetId}", rt.stream.Manifest)
		r.Get("/master/{assetId}", rt.stream.Master)
		r.Get("/segment", rt.stream.Segment)
	})

	r.Get("/assets/{assetId}", rt.assets.Get)

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/usage", rt.accounts.Usage)
		r.Post("/reload", rt.accounts.Reload)
		r.Post("/reconcile", rt.accounts.Reconcile)
	})

	return r
}
