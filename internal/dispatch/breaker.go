package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/example/notification-delivery/internal/message"
)

// ErrCircuitOpen is returned by Breaker while the wrapped sender is cut off.
var ErrCircuitOpen = errors.New("dispatch: circuit open")

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker. Defaults to 5.
	ConsecutiveFailures uint32
	// Timeout is how long the breaker stays open. Defaults to 30s.
	Timeout time.Duration
	// MaxRequests allowed while half-open. Defaults to 1.
	MaxRequests uint32
}

// Breaker guards a Sender with a circuit breaker. While the circuit is open
// Supports answers false, so a first-matching policy falls through to the
// next implementation. When nothing else matches, dispatch reports the open
// circuit as a transient failure so retries keep going. Permanent failures
// do not count against the circuit.
type Breaker struct {
	name   string
	next   Sender
	cb     *gobreaker.CircuitBreaker
	logger zerolog.Logger
}

// NewBreaker wraps next.
func NewBreaker(name string, next Sender, settings BreakerSettings, logger zerolog.Logger) *Breaker {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}

	b := &Breaker{
		name:   name,
		next:   next,
		logger: logger.With().Str("component", "breaker").Str("sender", name).Logger(),
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPermanent)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return b
}

// Supports implements Sender.
func (b *Breaker) Supports(msg message.Message) bool {
	return !b.Open() && b.next.Supports(msg)
}

// Open reports whether the circuit currently rejects calls.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// blocks reports whether msg is refused only because the circuit is open.
func (b *Breaker) blocks(msg message.Message) bool {
	return b.Open() && b.next.Supports(msg)
}

// Send implements Sender.
func (b *Breaker) Send(ctx context.Context, msg message.Message) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return WrapTransient(fmt.Errorf("%w: %s: %w", ErrCircuitOpen, b.name, err))
	}
	return err
}

// State returns the current breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
