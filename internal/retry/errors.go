package retry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMaximumAttemptsReached matches every *MaximumAttemptsReachedError.
	ErrMaximumAttemptsReached = errors.New("retry: maximum attempts reached")
	// ErrInterrupted matches every *InterruptedError.
	ErrInterrupted            = errors.New("retry: interrupted")
	// ErrNotRetried matches every *NotRetriedError.
	ErrNotRetried             = errors.New("retry: not retried")
)

// Failure records one failed attempt.
type Failure struct {
	Err      error
	Start    time.Time
	FailedAt time.Time
	Attempt  int
}

func (f Failure) String() string {
	return fmt.Sprintf("attempt %d failed at %s: %v", f.Attempt, f.FailedAt.Format(time.RFC3339Nano), f.Err)
}

// MaximumAttemptsReachedError is returned when the strategy gave up. Failures
// holds every attempt in execution order.
type MaximumAttemptsReachedError struct {
	Action   string
	Failures []Failure
}

func (e *MaximumAttemptsReachedError) Error() string {
	return fmt.Sprintf("retry: %s: maximum attempts reached after %d attempt(s): %v", actionName(e.Action), len(e.Failures), lastErr(e.Failures))
}

func (e *MaximumAttemptsReachedError) Is(target error) bool { return target == ErrMaximumAttemptsReached }

// Unwrap exposes every failure so errors.Is and errors.As reach each of them.
func (e *MaximumAttemptsReachedError) Unwrap() []error { return failureErrs(e.Failures) }

// InterruptedError is returned when the wait between two attempts was
// cancelled.
type InterruptedError struct {
	Cause    error
	Failures []Failure
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("retry: interrupted after %d attempt(s): %v", len(e.Failures), e.Cause)
}

func (e *InterruptedError) Is(target error) bool { return target == ErrInterrupted }

func (e *InterruptedError) Unwrap() error { return e.Cause }

// NotRetriedError is returned when the action failed and no retry was
// attempted, either because no strategy applies or because the failure is
// not retryable.
type NotRetriedError struct {
	Action   string
	Cause    error
	Failures []Failure
}

func (e *NotRetriedError) Error() string {
	return fmt.Sprintf("retry: %s: failed without retry: %v", actionName(e.Action), e.Cause)
}

func (e *NotRetriedError) Is(target error) bool { return target == ErrNotRetried }

func (e *NotRetriedError) Unwrap() error { return e.Cause }

// FailuresOf returns the recorded failures of any error produced by Execute.
func FailuresOf(err error) []Failure {
	var (
		maxErr *MaximumAttemptsReachedError
		intErr *InterruptedError
		notErr *NotRetriedError
	)
	switch {
	case errors.As(err, &maxErr):
		return maxErr.Failures
	case errors.As(err, &intErr):
		return intErr.Failures
	case errors.As(err, &notErr):
		return notErr.Failures
	}
	return nil
}

func failureErrs(failures []Failure) []error {
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func lastErr(failures []Failure) error {
	if len(failures) == 0 {
		return nil
	}
	return failures[len(failures)-1].Err
}

func actionName(name string) string {
	if name == "" {
		return "action"
	}
	return name
}
