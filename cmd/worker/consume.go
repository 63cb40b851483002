package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

type taskConsumer interface {
	ConsumeTasks(ctx context.Context, concurrency int, handler func(ctx context.Context, task repository.Task) error) error
}

type taskProcessor interface {
	ProcessTask(ctx context.Context, task repository.Task) error
}

// consume feeds tasks to p until intake is cancelled. Tasks run under
// workCtx, so cancelling intake lets in-flight conversions finish.
func consume(intake, workCtx context.Context, logger *slog.Logger, c taskConsumer, p taskProcessor, concurrency int) error {
	return c.ConsumeTasks(intake, concurrency, func(_ context.Context, task repository.Task) error {
		attrs := []any{
			slog.String("kind", string(task.Kind)),
			slog.String("asset_id", task.AssetID.String()),
			slog.Int("retry_count", task.RetryCount),
		}
		if task.Kind == repository.TaskConvert {
			attrs = append(attrs,
				slog.String("job_id", task.JobID.String()),
				slog.String("resolution", task.Resolution),
			)
		}

		logger.Info("processing task", attrs...)
		start := time.Now()

		if err := p.ProcessTask(workCtx, task); err != nil {
			logger.Error("task processing failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}

		logger.Info("task completed", append(attrs, slog.Duration("duration", time.Since(start)))...)
		return nil
	})
}
