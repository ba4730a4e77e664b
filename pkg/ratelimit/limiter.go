package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates outbound requests. Wait blocks until a request may proceed
// or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// LimiterFunc adapts a function to the Limiter interface.
type LimiterFunc func(ctx context.Context) error

// Wait calls f(ctx).
func (f LimiterFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// Unlimited returns a limiter that never blocks. Useful for tests.
func Unlimited() Limiter {
	return LimiterFunc(func(ctx context.Context) error {
		return ctx.Err()
	})
}

// NewIntervalLimiter returns a token bucket allowing one request per interval
// with a burst of one. An interval <= 0 disables limiting.
func NewIntervalLimiter(interval time.Duration) Limiter {
	if interval <= 0 {
		return Unlimited()
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// PerSecond converts a target request rate into a request interval.
func PerSecond(n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / n)
}

// Chain returns a limiter that waits on each limiter in order.
func Chain(limiters ...Limiter) Limiter {
	return LimiterFunc(func(ctx context.Context) error {
		for _, l := range limiters {
			if l == nil {
				continue
			}
			if err := l.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}
		return nil
	})
}
