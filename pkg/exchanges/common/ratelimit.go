package common

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces outbound venue calls. A nil Limiter never waits.
type Limiter struct {
	l *rate.Limiter
}

// NewLimiter allows perSecond calls with the given burst.
// Binance futures grants 2400 weight per minute; the engine stays well below.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a call may proceed or ctx is done.
func (rl *Limiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.l.Wait(ctx)
}
