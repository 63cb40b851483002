package usecase

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// shared runs fn once per key for all concurrent callers and reports
// whether the result was shared. fn is detached from the cancellation of the
// caller that started it, so a caller that gives up does not fail the
// others; each caller stops waiting when its own ctx is done.
func shared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	}
}
