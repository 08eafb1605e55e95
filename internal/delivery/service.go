// Package delivery sends messages through the implementations selected by a
// dispatch policy, retrying failed attempts and reporting one outcome.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/metrics"
	"github.com/example/notification-delivery/internal/retry"
	"github.com/example/notification-delivery/internal/translator"
)

// ErrUnsupportedChannel is returned for messages whose channel has no policy.
var ErrUnsupportedChannel = errors.New("delivery: unsupported channel")

// Status event types.
const (
	StatusAttempt = "attempt"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// StatusEvent describes a lifecycle update of a message.
type StatusEvent struct {
	Type      string
	Attempt   int
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// StatusPublisher receives lifecycle updates. Publication failures are
// logged and never change the delivery outcome.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg message.Message, event StatusEvent) error
}

// Config holds the tunables of the service.
type Config struct {
	// MaxConcurrent bounds in-flight sends. Zero means unbounded.
	MaxConcurrent int
}

// Dependencies collects the collaborators of the service.
type Dependencies struct {
	Policies map[message.Channel]dispatch.Policy
	// Strategy drives retries. Nil sends each message once.
	Strategy retry.StrategyProvider
	Awaiter  retry.Awaiter
	// Retryable decides whether a failure is worth another attempt.
	// Defaults to CanResend.
	Retryable func(error) bool
	Status    StatusPublisher
	Metrics   *metrics.Collector
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Service is the delivery entry point. It is safe for concurrent use.
type Service struct {
	policies map[message.Channel]dispatch.Policy
	executor *retry.Executor
	status   StatusPublisher
	metrics  *metrics.Collector
	sem      *semaphore.Weighted
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService validates its inputs and builds a Service.
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if len(deps.Policies) == 0 {
		return nil, errors.New("delivery: at least one channel policy is required")
	}
	if cfg.MaxConcurrent < 0 {
		return nil, errors.New("delivery: max concurrent cannot be negative")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	retryable := deps.Retryable
	if retryable == nil {
		retryable = CanResend
	}

	policies := make(map[message.Channel]dispatch.Policy, len(deps.Policies))
	for ch, p := range deps.Policies {
		if p == nil {
			return nil, fmt.Errorf("delivery: nil policy for channel %s", ch)
		}
		policies[ch] = p
	}

	s := &Service{
		policies: policies,
		status:   deps.Status,
		metrics:  deps.Metrics,
		now:      now,
		logger:   logger.With().Str("component", "delivery").Logger(),
	}
	s.executor = retry.NewExecutor(deps.Strategy, deps.Awaiter,
		retry.WithClock(now),
		retry.WithLogger(logger),
		retry.WithRetryable(retryable),
		retry.WithName("send"),
	)
	if cfg.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return s, nil
}

// Send delivers msg and blocks until it was sent or definitively failed.
// The returned error is nil on success, otherwise one of the retry errors
// wrapping the dispatch failures, or ErrUnsupportedChannel.
func (s *Service) Send(ctx context.Context, msg message.Message) error {
	if msg == nil {
		return errors.New("delivery: message is required")
	}
	if v := reflect.ValueOf(msg); v.Kind() == reflect.Pointer && v.IsNil() {
		return errors.New("delivery: message is required")
	}
	channel := msg.Channel()
	policy, ok := s.policies[channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChannel, channel)
	}

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.sem.Release(1)
	}
	defer s.metrics.Begin()()

	logger := s.logger.With().
		Str("message_id", msg.ID()).
		Str("channel", string(channel)).
		Logger()

	start := s.now()
	attempt := 0
	err := s.executor.Execute(ctx, func(ctx context.Context) error {
		attempt++
		s.metrics.Attempt(string(channel))
		s.publish(ctx, msg, StatusEvent{Type: StatusAttempt, Attempt: attempt})
		return policy.Dispatch(ctx, msg)
	})
	duration := s.now().Sub(start)

	if err == nil {
		logger.Info().Int("attempt", attempt).Dur("duration", duration).Msg("message sent")
		s.metrics.Outcome(string(channel), metrics.OutcomeSent, duration)
		s.publish(ctx, msg, StatusEvent{Type: StatusSent, Attempt: attempt, Duration: duration})
		return nil
	}

	outcome := metrics.OutcomeFailed
	if errors.Is(err, dispatch.ErrNoSenderAvailable) {
		outcome = metrics.OutcomeNoSender
	}
	switch {
	case errors.Is(err, translator.ErrNoContent):
		s.metrics.TranslationFailure("no_content")
	case errors.Is(err, translator.ErrFatal):
		s.metrics.TranslationFailure("fatal")
	}
	s.metrics.Outcome(string(channel), outcome, duration)

	logger.Warn().Int("attempt", attempt).Dur("duration", duration).Err(err).Msg("message delivery failed")
	s.publish(ctx, msg, StatusEvent{Type: StatusFailed, Attempt: attempt, Error: err.Error(), Duration: duration})
	return err
}

// Channels lists the channels the service can deliver.
func (s *Service) Channels() []message.Channel {
	out := make([]message.Channel, 0, len(s.policies))
	for ch := range s.policies {
		out = append(out, ch)
	}
	return out
}

func (s *Service) publish(ctx context.Context, msg message.Message, event StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if s.status == nil {
		return
	}
	if err := s.status.PublishStatus(ctx, msg, event); err != nil {
		s.logger.Error().
			Str("channel", string(msg.Channel())).
			Str("message_id", msg.ID()).
			Str("event", event.Type).
			Err(err).
			Msg("failed to publish status event")
	}
}

// CanResend is the default retry predicate. It refuses failures that another
// attempt cannot fix: no applicable sender, unusable content, permanent
// backend rejections and caller cancellation.
func CanResend(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, dispatch.ErrNoSenderAvailable) || errors.Is(err, dispatch.ErrPermanent) {
		return false
	}
	if errors.Is(err, translator.ErrNoContent) {
		return false
	}
	var te *translator.TranslationError
	return !errors.As(err, &te)
}
