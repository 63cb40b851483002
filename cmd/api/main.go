package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediapool/internal/api/handler"
	"github.com/hszk-dev/mediapool/internal/config"
	"github.com/hszk-dev/mediapool/internal/infrastructure/cache"
	"github.com/hszk-dev/mediapool/internal/infrastructure/diskcache"
	"github.com/hszk-dev/mediapool/internal/infrastructure/postgres"
	"github.com/hszk-dev/mediapool/internal/infrastructure/queue"
	"github.com/hszk-dev/mediapool/internal/infrastructure/scratch"
	"github.com/hszk-dev/mediapool/internal/pool"
	"github.com/hszk-dev/mediapool/internal/scheduler"
	"github.com/hszk-dev/mediapool/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize infrastructure clients
	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")

	if cfg.Database.Migrate {
		if err := pgClient.Migrate(ctx); err != nil {
			return err
		}
	}

	queueClient, err := queue.NewClient(ctx, queue.DefaultClientConfig(cfg.RabbitMQ.URL()))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer func() { _ = queueClient.Close() }()
	logger.Info("connected to RabbitMQ")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis")

	// Storage pool
	accountRepo := postgres.NewAccountRepository(pgClient.Pool())
	registry := pool.NewRegistry(cfg.Pool.AccountsFile, accountRepo, pool.MinioDialer, pool.RegistryConfig{
		RequestsPerSecond: cfg.Pool.RequestsPerSecond,
		Burst:             cfg.Pool.RequestBurst,
		Debounce:          cfg.Pool.ReloadDebounce,
	})
	result, err := registry.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load storage accounts: %w", err)
	}
	logger.Info("storage accounts loaded", slog.Any("active", result.Active))
	if err := registry.Watch(ctx); err != nil {
		logger.Warn("accounts file watcher unavailable", slog.String("error", err.Error()))
	}

	blobPool := pool.NewManager(registry, accountRepo, poolConfig(cfg.Pool))

	chunks, err := scratch.New(cfg.Upload.ScratchDir)
	if err != nil {
		return fmt.Errorf("failed to prepare scratch directory: %w", err)
	}
	segmentCache, err := diskcache.New(diskcache.Config{
		Dir:      cfg.Stream.CacheDir,
		TTL:      cfg.Stream.SegmentTTL,
		MaxBytes: cfg.Stream.CacheMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to prepare segment cache: %w", err)
	}

	// Repositories, caches and services
	assetRepo := postgres.NewAssetRepository(pgClient.Pool())
	jobRepo := postgres.NewJobRepository(pgClient.Pool())
	segmentRepo := postgres.NewSegmentRepository(pgClient.Pool())
	assetCache := cache.NewRedisAssetCache(redisClient)
	manifestCache := cache.NewRedisManifestCache(redisClient)

	uploadSvc := usecase.NewUploadService(assetRepo, blobPool, queueClient, chunks, assetCache,
		usecase.UploadServiceConfig{StaleAfter: cfg.Upload.StaleAfter})
	conversionSvc := usecase.NewConversionService(assetRepo, jobRepo, queueClient, assetCache,
		usecase.ConversionServiceConfig{JobLease: cfg.Worker.JobLease})
	streamSvc := usecase.NewStreamService(assetRepo, jobRepo, segmentRepo, blobPool, manifestCache, segmentCache,
		usecase.StreamServiceConfig{ManifestTTL: cfg.Stream.ManifestTTL, BaseURL: cfg.Stream.BaseURL})
	assetSvc := usecase.NewCachedAssetService(usecase.NewAssetService(assetRepo), assetCache,
		usecase.DefaultCachedAssetServiceConfig())

	// Maintenance
	sched := scheduler.New(30 * time.Minute)
	for _, task := range []scheduler.Task{
		scheduler.ReconcileTask(cfg.Pool.ReconcileSchedule, blobPool),
		scheduler.SweepTask(cfg.Stream.SweepSchedule, segmentCache),
		scheduler.PurgeTask(cfg.Upload.PurgeSchedule, uploadSvc),
		scheduler.ReapTask(cfg.Worker.ReapSchedule, conversionSvc),
	} {
		if err := sched.Add(task); err != nil {
			return err
		}
	}
	sched.Start()

	r := setupRouter(logger, routes{
		uploads: handler.NewUploadHandler(uploadSvc, handler.UploadLimits{
			MaxChunkBytes: cfg.Upload.MaxChunkBytes,
			MaxFileBytes:  cfg.Upload.MaxFileBytes,
		}),
		jobs:     handler.NewJobHandler(conversionSvc),
		stream:   handler.NewStreamHandler(streamSvc),
		assets:   handler.NewAssetHandler(assetSvc),
		accounts: handler.NewAccountHandler(blobPool, registry),
		checks: map[string]handler.PingFunc{
			"postgres": pgClient.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		uploadRateLimit: cfg.Server.UploadRateLimit,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	sched.Stop(shutdownCtx)

	logger.Info("server stopped")
	return nil
}

func poolConfig(c config.PoolConfig) pool.Config {
	return pool.Config{
		Selector: pool.SelectorConfig{
			ReserveMargin: c.ReserveMargin,
			ComfortMargin: c.ComfortMargin,
		},
		Retry: pool.RetryConfig{
			Attempts:  c.RetryAttempts,
			BaseDelay: c.RetryBaseDelay,
			MaxDelay:  c.RetryMaxDelay,
		},
	}
}
