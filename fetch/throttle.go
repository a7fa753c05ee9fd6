package fetch

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces consecutive calls by a fixed delay. The first Wait returns
// immediately.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle creates a throttle. A delay of zero or less never waits.
func NewThrottle(delay time.Duration) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next call is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
