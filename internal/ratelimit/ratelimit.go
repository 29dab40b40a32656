// Package ratelimit provides per-service token-bucket admission control for
// outbound requests. Each target service owns its own Limiter instance;
// sharing one limiter across unrelated services would wrongly couple their
// quotas.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with a sustained rate and burst capacity.
// Wait blocks the caller for exactly the time needed to accumulate the
// token deficit; admission serializes but the I/O behind it does not.
// Safe for concurrent use.
type Limiter struct {
	bucket   *rate.Limiter
	requests atomic.Int64
	start    time.Time
}

// Stats reports how a limiter has been used since creation.
type Stats struct {
	Requests   int64
	Elapsed    time.Duration
	AverageRPS float64
}

// New creates a Limiter admitting rps tokens per second with the given
// burst capacity. The bucket starts full.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
		start:  time.Now(),
	}
}

// Wait acquires one token, blocking until it is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.WaitN(ctx, 1)
}

// WaitN acquires n tokens. The bucket may overdraw while a caller sleeps,
// so admission never permanently lags the configured rate.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if err := l.bucket.WaitN(ctx, n); err != nil {
		return err
	}
	l.requests.Add(1)
	return nil
}

// Stats returns request counters for progress reporting.
func (l *Limiter) Stats() Stats {
	elapsed := time.Since(l.start)
	requests := l.requests.Load()
	s := Stats{Requests: requests, Elapsed: elapsed}
	if elapsed > 0 {
		s.AverageRPS = float64(requests) / elapsed.Seconds()
	}
	return s
}
