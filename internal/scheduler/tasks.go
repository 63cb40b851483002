package scheduler

import (
	"context"
	"log/slog"

	"github.com/hszk-dev/mediapool/internal/infrastructure/diskcache"
)

// Reconciler recomputes account usage from the providers.
type Reconciler interface {
	ReconcileUsage(ctx context.Context) error
}

// Sweeper evicts expired or excess disk-cache entries.
type Sweeper interface {
	Sweep() (diskcache.SweepStats, error)
}

// Purger removes abandoned uploads.
type Purger interface {
	PurgeStale(ctx context.Context) (int, error)
}

// Reaper fails conversion jobs abandoned by their worker.
type Reaper interface {
	ReapStaleJobs(ctx context.Context) (int, error)
}

// ReconcileTask resyncs account usage counters.
func ReconcileTask(spec string, r Reconciler) Task {
	return Task{Name: "reconcile", Spec: spec, Run: r.ReconcileUsage}
}

// SweepTask sweeps the segment disk cache.
func SweepTask(spec string, s Sweeper) Task {
	return Task{
		Name: "sweep",
		Spec: spec,
		Run: func(ctx context.Context) error {
			stats, err := s.Sweep()
			if err != nil {
				return err
			}
			if stats.Expired+stats.Evicted > 0 {
				slog.Info("disk cache swept",
					"expired", stats.Expired,
					"evicted", stats.Evicted,
					"freed_bytes", stats.FreedSize,
					"remaining_bytes", stats.Remaining,
				)
			}
			return nil
		},
	}
}

// PurgeTask drops uploads idle past the stale threshold.
func PurgeTask(spec string, p Purger) Task {
	return Task{
		Name: "purge",
		Spec: spec,
		Run: func(ctx context.Context) error {
			n, err := p.PurgeStale(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Info("stale uploads purged", "count", n)
			}
			return nil
		},
	}
}

// ReapTask fails processing jobs whose lease ran out.
func ReapTask(spec string, r Reaper) Task {
	return Task{
		Name: "reap",
		Spec: spec,
		Run: func(ctx context.Context) error {
			n, err := r.ReapStaleJobs(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Warn("abandoned conversion jobs failed", "count", n)
			}
			return nil
		},
	}
}
