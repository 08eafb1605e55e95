package retry

import (
	"errors"
	"fmt"
	"time"
)

// Strategy decides when the next attempt happens and when to give up. A
// strategy is stateful: every Executor.Execute call obtains a fresh one.
type Strategy interface {
	// NextDate is called once per failure with the start of the failed
	// attempt and the moment it failed.
	NextDate(start, failure time.Time) time.Time
	// Terminated reports whether no further attempt must be made.
	Terminated() bool
}

// StrategyProvider builds a new Strategy. Returning nil disables retries.
type StrategyProvider func() Strategy

// Never is a provider that yields no strategy at all.
func Never() Strategy { return nil }

// FixedDelay waits the same delay after every failure.
type FixedDelay struct {
	MaxAttempts int
	Delay       time.Duration

	failures int
}

// NewFixedDelay validates the settings and returns a provider.
func NewFixedDelay(maxAttempts int, delay time.Duration) (StrategyProvider, error) {
	cfg := FixedDelay{MaxAttempts: maxAttempts, Delay: delay}
	if err := checkAttempts(maxAttempts); err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, fmt.Errorf("retry: fixed delay must not be negative, got %s", delay)
	}
	return func() Strategy {
		s := cfg
		return &s
	}, nil
}

func (s *FixedDelay) NextDate(_, failure time.Time) time.Time {
	s.failures++
	return failure.Add(s.Delay)
}

func (s *FixedDelay) Terminated() bool { return s.failures >= s.MaxAttempts }

// FixedInterval starts attempts at a regular pace: the next attempt is
// scheduled relative to the start of the failed one. If the attempt took
// longer than the interval the next one starts right away.
type FixedInterval struct {
	MaxAttempts int
	Interval    time.Duration

	failures int
}

// NewFixedInterval validates the settings and returns a provider.
func NewFixedInterval(maxAttempts int, interval time.Duration) (StrategyProvider, error) {
	cfg := FixedInterval{MaxAttempts: maxAttempts, Interval: interval}
	if err := checkAttempts(maxAttempts); err != nil {
		return nil, err
	}
	if interval < 0 {
		return nil, fmt.Errorf("retry: interval must not be negative, got %s", interval)
	}
	return func() Strategy {
		s := cfg
		return &s
	}, nil
}

func (s *FixedInterval) NextDate(start, _ time.Time) time.Time {
	s.failures++
	return start.Add(s.Interval)
}

func (s *FixedInterval) Terminated() bool { return s.failures >= s.MaxAttempts }

// Exponential doubles the wait after each failure, starting at InitialDelay.
// MaxDelay caps a single wait. The strategy stops once MaxAttempts runs are
// spent or once MaxElapsed since the first attempt would be exceeded; the
// attempt limit is checked first.
type Exponential struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	MaxElapsed   time.Duration

	failures   int
	firstStart time.Time
	terminated bool
}

// NewExponential validates the settings and returns a provider. At least one
// of maxAttempts and maxElapsed must be set.
func NewExponential(initial, maxDelay time.Duration, maxAttempts int, maxElapsed time.Duration) (StrategyProvider, error) {
	if initial <= 0 {
		return nil, fmt.Errorf("retry: initial delay must be positive, got %s", initial)
	}
	if maxDelay < 0 || maxElapsed < 0 || maxAttempts < 0 {
		return nil, errors.New("retry: exponential limits must not be negative")
	}
	if maxAttempts == 0 && maxElapsed == 0 {
		return nil, errors.New("retry: exponential backoff needs max attempts or max elapsed time")
	}
	cfg := Exponential{InitialDelay: initial, MaxDelay: maxDelay, MaxAttempts: maxAttempts, MaxElapsed: maxElapsed}
	return func() Strategy {
		s := cfg
		return &s
	}, nil
}

func (s *Exponential) NextDate(start, failure time.Time) time.Time {
	if s.firstStart.IsZero() {
		s.firstStart = start
	}
	s.failures++
	next := failure.Add(s.delay(s.failures))

	switch {
	case s.MaxAttempts > 0 && s.failures >= s.MaxAttempts:
		s.terminated = true
	case s.MaxElapsed > 0 && next.Sub(s.firstStart) > s.MaxElapsed:
		s.terminated = true
	}
	return next
}

func (s *Exponential) Terminated() bool { return s.terminated }

// delay returns InitialDelay * 2^(n-1), capped by MaxDelay when set.
func (s *Exponential) delay(n int) time.Duration {
	d := s.InitialDelay
	for i := 1; i < n; i++ {
		if d > maxDuration/2 {
			d = maxDuration
			break
		}
		d *= 2
		if s.MaxDelay > 0 && d >= s.MaxDelay {
			break
		}
	}
	if s.MaxDelay > 0 && d > s.MaxDelay {
		d = s.MaxDelay
	}
	return d
}

const maxDuration = time.Duration(1<<63 - 1)

// PerExecutionDelay uses a dedicated delay for each retry. Once the list is
// exhausted the last delay is reused.
type PerExecutionDelay struct {
	MaxAttempts int
	Delays      []time.Duration

	failures int
}

// NewPerExecutionDelay validates the settings and returns a provider.
func NewPerExecutionDelay(maxAttempts int, delays ...time.Duration) (StrategyProvider, error) {
	if err := checkAttempts(maxAttempts); err != nil {
		return nil, err
	}
	if len(delays) == 0 {
		return nil, errors.New("retry: per-execution delays must not be empty")
	}
	for _, d := range delays {
		if d < 0 {
			return nil, fmt.Errorf("retry: per-execution delay must not be negative, got %s", d)
		}
	}
	frozen := append([]time.Duration(nil), delays...)
	return func() Strategy {
		return &PerExecutionDelay{MaxAttempts: maxAttempts, Delays: frozen}
	}, nil
}

func (s *PerExecutionDelay) NextDate(_, failure time.Time) time.Time {
	idx := s.failures
	if idx >= len(s.Delays) {
		idx = len(s.Delays) - 1
	}
	s.failures++
	if idx < 0 {
		return failure
	}
	return failure.Add(s.Delays[idx])
}

func (s *PerExecutionDelay) Terminated() bool { return s.failures >= s.MaxAttempts }

func checkAttempts(n int) error {
	if n < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", n)
	}
	return nil
}
