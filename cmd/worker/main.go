package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediapool/internal/config"
	"github.com/hszk-dev/mediapool/internal/infrastructure/cache"
	"github.com/hszk-dev/mediapool/internal/infrastructure/postgres"
	"github.com/hszk-dev/mediapool/internal/infrastructure/queue"
	"github.com/hszk-dev/mediapool/internal/pool"
	"github.com/hszk-dev/mediapool/internal/transcoder"
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

	// Ensure temp directory exists
	if err := os.MkdirAll(cfg.Worker.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	// Initialize infrastructure clients
	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")

	queueCfg := queue.DefaultClientConfig(cfg.RabbitMQ.URL())
	queueCfg.Prefetch = cfg.Worker.Concurrency
	queueClient, err := queue.NewClient(ctx, queueCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer func() { _ = queueClient.Close() }()
	logger.Info("connected to RabbitMQ")

	// Initialize Redis client for cache invalidation
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
	if _, err := registry.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load storage accounts: %w", err)
	}
	if err := registry.Watch(ctx); err != nil {
		logger.Warn("accounts file watcher unavailable", slog.String("error", err.Error()))
	}
	blobPool := pool.NewManager(registry, accountRepo, pool.Config{
		Selector: pool.SelectorConfig{
			ReserveMargin: cfg.Pool.ReserveMargin,
			ComfortMargin: cfg.Pool.ComfortMargin,
		},
		Retry: pool.RetryConfig{
			Attempts:  cfg.Pool.RetryAttempts,
			BaseDelay: cfg.Pool.RetryBaseDelay,
			MaxDelay:  cfg.Pool.RetryMaxDelay,
		},
	})

	tc := transcoder.NewFFmpegTranscoder(transcoder.FFmpegConfig{
		FFmpegPath:      cfg.Transcode.FFmpegPath,
		FFprobePath:     cfg.Transcode.FFprobePath,
		VideoCodec:      cfg.Transcode.VideoCodec,
		VideoPreset:     cfg.Transcode.Preset,
		AudioCodec:      cfg.Transcode.AudioCodec,
		AudioBitrate:    cfg.Transcode.AudioBitrate,
		SegmentDuration: cfg.Transcode.SegmentDuration,
		ThumbnailWidth:  cfg.Transcode.ThumbnailWidth,
	})

	transcodeSvc := usecase.NewTranscodeService(
		postgres.NewAssetRepository(pgClient.Pool()),
		postgres.NewJobRepository(pgClient.Pool()),
		postgres.NewSegmentRepository(pgClient.Pool()),
		blobPool,
		tc,
		cache.NewRedisManifestCache(redisClient),
		cache.NewRedisAssetCache(redisClient),
		usecase.TranscodeServiceConfig{
			TempDir:    cfg.Worker.TempDir,
			MaxRetries: cfg.Worker.MaxRetries,
			JobLease:   cfg.Worker.JobLease,
		},
	)

	// Setup signal handling for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	intake, stopIntake := context.WithCancel(ctx)
	defer stopIntake()

	done := make(chan error, 1)
	go func() {
		logger.Info("starting worker", slog.Int("concurrency", cfg.Worker.Concurrency))
		done <- consume(intake, ctx, logger, queueClient, transcodeSvc, cfg.Worker.Concurrency)
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consumer error: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
	}

	// Stop taking new tasks; ConsumeTasks returns once in-flight ones finish.
	stopIntake()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
		logger.Info("all in-flight tasks completed")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, cancelling in-flight tasks")
		cancel()
		<-done
	}

	logger.Info("worker stopped")
	return nil
}
