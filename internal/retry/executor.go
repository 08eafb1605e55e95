package retry

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"
)

// Executor runs an action until it succeeds or the strategy gives up.
// Execute blocks the caller; an Executor is safe for concurrent use because
// every call works on its own Strategy and failure list.
type Executor struct {
	provider  StrategyProvider
	awaiter   Awaiter
	now       func() time.Time
	retryable func(error) bool
	name      string
	logger    zerolog.Logger
}

// Option customises an Executor.
type Option func(*Executor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithRetryable installs a predicate consulted after each failure. A failure
// it rejects ends the execution with a *NotRetriedError.
func WithRetryable(fn func(error) bool) Option {
	return func(e *Executor) { e.retryable = fn }
}

// WithName labels the action in errors and logs.
func WithName(name string) Option {
	return func(e *Executor) { e.name = name }
}

// NewExecutor builds an executor. A nil provider means the action runs once.
// A nil awaiter falls back to a SleepAwaiter sharing the executor clock.
func NewExecutor(provider StrategyProvider, awaiter Awaiter, opts ...Option) *Executor {
	e := &Executor{
		provider: provider,
		awaiter:  awaiter,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if reflect.ValueOf(e.logger).IsZero() {
		e.logger = zerolog.Nop()
	}
	e.logger = e.logger.With().Str("component", "retry").Logger()
	if e.awaiter == nil {
		e.awaiter = SleepAwaiter{Now: e.now}
	}
	return e
}

// Execute runs action. It returns nil on the first success, or one of
// *MaximumAttemptsReachedError, *InterruptedError, *NotRetriedError.
// A failed attempt while ctx is done yields *InterruptedError whether the
// cancellation landed during the attempt or during the wait, so
// errors.Is(err, ErrInterrupted) identifies every cancellation.
func (e *Executor) Execute(ctx context.Context, action func(ctx context.Context) error) error {
	if action == nil {
		return errors.New("retry: action must not be nil")
	}

	var strategy Strategy
	if e.provider != nil {
		strategy = e.provider()
	}

	var failures []Failure
	for attempt := 1; ; attempt++ {
		start := e.now()
		err := action(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Debug().Str("action", actionName(e.name)).Int("attempt", attempt).Msg("action succeeded after retry")
			}
			return nil
		}
		failedAt := e.now()
		failures = append(failures, Failure{Err: err, Start: start, FailedAt: failedAt, Attempt: attempt})

		if cerr := ctx.Err(); cerr != nil {
			return &InterruptedError{Cause: cerr, Failures: failures}
		}
		if strategy == nil || (e.retryable != nil && !e.retryable(err)) {
			return &NotRetriedError{Action: e.name, Cause: err, Failures: failures}
		}

		next := strategy.NextDate(start, failedAt)
		if strategy.Terminated() {
			e.logger.Warn().
				Str("action", actionName(e.name)).
				Int("attempt", attempt).
				Err(err).
				Msg("giving up, maximum attempts reached")
			return &MaximumAttemptsReachedError{Action: e.name, Failures: failures}
		}

		e.logger.Debug().
			Str("action", actionName(e.name)).
			Int("attempt", attempt).
			Time("next_attempt", next).
			Err(err).
			Msg("attempt failed, scheduling retry")

		if werr := e.awaiter.WaitUntil(ctx, next); werr != nil {
			return &InterruptedError{Cause: werr, Failures: failures}
		}
	}
}

// Do is Execute for actions producing a value. The value of the successful
// attempt is returned.
func Do[V any](ctx context.Context, e *Executor, action func(ctx context.Context) (V, error)) (V, error) {
	var out V
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := action(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
