package pool

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

// Default retry settings for rate-limited provider calls.
const (
	DefaultRetryAttempts = 5
	DefaultRetryBase     = 200 * time.Millisecond
	DefaultRetryMax      = 10 * time.Second
)

// RetryConfig bounds the backoff applied to rate-limited provider calls.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

type retrier struct {
	attempts int
	base     time.Duration
	max      time.Duration

	mu  sync.Mutex
	rnd *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

func newRetrier(cfg RetryConfig) *retrier {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultRetryAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryBase
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryMax
	}
	return &retrier{
		attempts: cfg.Attempts,
		base:     cfg.BaseDelay,
		max:      cfg.MaxDelay,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
		sleep:    sleepWithContext,
	}
}

// do runs op, retrying only when it fails with repository.ErrRateLimited.
// The limiter, if any, is waited on before every attempt.
func (r *retrier) do(ctx context.Context, limiter *rate.Limiter, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if limiter != nil {
			if werr := limiter.Wait(ctx); werr != nil {
				return werr
			}
		}

		err = op(ctx)
		if err == nil || !errors.Is(err, repository.ErrRateLimited) {
			return err
		}
		if attempt == r.attempts-1 {
			break
		}

		if serr := r.sleep(ctx, r.backoffFor(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

func (r *retrier) backoffFor(attempt int) time.Duration {
	wait := r.base * time.Duration(1<<attempt)
	if wait > r.max || wait <= 0 {
		wait = r.max
	}
	jitter := time.Duration(r.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (r *retrier) randInt63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
