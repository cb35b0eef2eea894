package httpx

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces calls to one external endpoint. A nil Limiter never blocks,
// so callers can share one instance across workers or pass nil.
type Limiter struct {
	l *rate.Limiter
}

// NewLimiter allows perMinute requests per minute with no bursting.
// Zero or negative means unlimited.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	return &Limiter{l: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.l == nil {
		return ctx.Err()
	}
	return l.l.Wait(ctx)
}
