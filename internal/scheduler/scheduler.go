// Package scheduler runs periodic maintenance on cron specs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hszk-dev/mediapool/internal/infrastructure/metrics"
)

// Task is one named maintenance routine.
type Task struct {
	Name string
	// Spec is a cron expression with a leading seconds field, or a
	// descriptor such as "@every 10m". An empty spec disables the task.
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs tasks on their schedules. A run still in progress when
// its next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. timeout bounds each run; zero means no bound.
func New(timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a task.
func (s *Scheduler) Add(task Task) error {
	if task.Spec == "" {
		slog.Info("maintenance task disabled", "task", task.Name)
		return nil
	}
	if _, err := s.cron.AddFunc(task.Spec, func() { s.run(task) }); err != nil {
		return fmt.Errorf("schedule %s: %w", task.Name, err)
	}
	return nil
}

// Start begins running tasks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("maintenance tasks still running at shutdown")
	}
}

func (s *Scheduler) run(task Task) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := task.Run(ctx); err != nil {
		metrics.MaintenanceRunsTotal.WithLabelValues(task.Name, "error").Inc()
		slog.Error("maintenance task failed", "task", task.Name, "error", err)
		return
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(task.Name, "success").Inc()
	slog.Debug("maintenance task completed", "task", task.Name, "duration", time.Since(start))
}
