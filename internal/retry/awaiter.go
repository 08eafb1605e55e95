package retry

import (
	"context"
	"time"
)

// Awaiter suspends the caller until a point in time. It is the only place
// where the executor blocks between attempts.
type Awaiter interface {
	WaitUntil(ctx context.Context, t time.Time) error
}

// AwaiterFunc adapts a function to Awaiter.
type AwaiterFunc func(ctx context.Context, t time.Time) error

// WaitUntil implements Awaiter.
func (f AwaiterFunc) WaitUntil(ctx context.Context, t time.Time) error { return f(ctx, t) }

// SleepAwaiter blocks on a timer, returning early with the context error
// when ctx is done.
type SleepAwaiter struct {
	Now func() time.Time
}

// WaitUntil implements Awaiter.
func (a SleepAwaiter) WaitUntil(ctx context.Context, t time.Time) error {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	d := t.Sub(now())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoopAwaiter never waits. Useful when attempts should run back to back.
type NoopAwaiter struct{}

// WaitUntil implements Awaiter.
func (NoopAwaiter) WaitUntil(ctx context.Context, _ time.Time) error { return ctx.Err() }
