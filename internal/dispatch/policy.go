package dispatch

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/message"
)

// Policy decides which implementations receive a message and sends it.
type Policy interface {
	Dispatch(ctx context.Context, msg message.Message) error
	Select(msg message.Message) []Implementation
}

// EveryMatching sends the message through every implementation that accepts
// it, sequentially and in registration order. The first send error is
// returned immediately.
type EveryMatching struct {
	impls  Implementations
	logger zerolog.Logger
}

// NewEveryMatching builds the all-matching policy.
func NewEveryMatching(impls Implementations, logger zerolog.Logger) *EveryMatching {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &EveryMatching{
		impls:  impls,
		logger: logger.With().Str("component", "dispatch").Str("policy", "every").Logger(),
	}
}

// Dispatch implements Policy.
func (p *EveryMatching) Dispatch(ctx context.Context, msg message.Message) error {
	return dispatch(ctx, p.impls, msg, false, p.logger)
}

// Select returns every implementation that currently accepts msg.
func (p *EveryMatching) Select(msg message.Message) []Implementation {
	return selectMatching(p.impls, msg, false)
}

// FirstMatching sends the message through the earliest registered
// implementation that accepts it; later entries are not consulted.
type FirstMatching struct {
	impls  Implementations
	logger zerolog.Logger
}

// NewFirstMatching builds the first-matching policy.
func NewFirstMatching(impls Implementations, logger zerolog.Logger) *FirstMatching {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &FirstMatching{
		impls:  impls,
		logger: logger.With().Str("component", "dispatch").Str("policy", "first").Logger(),
	}
}

// Dispatch implements Policy.
func (p *FirstMatching) Dispatch(ctx context.Context, msg message.Message) error {
	return dispatch(ctx, p.impls, msg, true, p.logger)
}

// Select returns the implementation that would be used, if any.
func (p *FirstMatching) Select(msg message.Message) []Implementation {
	return selectMatching(p.impls, msg, true)
}

// each walks impls in order and calls fn for every accepting implementation,
// stopping after the first one when firstOnly is set or when fn fails.
func each(impls Implementations, msg message.Message, firstOnly bool, fn func(Implementation) error) (int, error) {
	matched := 0
	for _, impl := range impls.items {
		if !impl.accepts(msg) {
			continue
		}
		matched++
		if err := fn(impl); err != nil {
			return matched, err
		}
		if firstOnly {
			break
		}
	}
	return matched, nil
}

func dispatch(ctx context.Context, impls Implementations, msg message.Message, firstOnly bool, logger zerolog.Logger) error {
	matched, err := each(impls, msg, firstOnly, func(impl Implementation) error {
		logger.Debug().
			Str("message_id", msg.ID()).
			Str("channel", string(msg.Channel())).
			Str("sender", impl.Name).
			Msg("dispatching message")
		if err := impl.Sender.Send(ctx, msg); err != nil {
			return &SendError{Implementation: impl.Name, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if matched == 0 {
		if name, ok := circuitBlocked(impls, msg); ok {
			logger.Warn().
				Str("message_id", msg.ID()).
				Str("channel", string(msg.Channel())).
				Str("sender", name).
				Msg("only matching implementation has an open circuit")
			return &SendError{Implementation: name, Err: WrapTransient(fmt.Errorf("%w: %s", ErrCircuitOpen, name))}
		}
		logger.Warn().
			Str("message_id", msg.ID()).
			Str("channel", string(msg.Channel())).
			Strs("implementations", impls.Names()).
			Msg("no implementation accepts the message")
		return &NoSenderAvailableError{MessageID: msg.ID(), Channel: msg.Channel(), Tried: impls.Len()}
	}
	return nil
}

// circuitBlocked returns the first implementation whose condition and
// sender accept msg but whose circuit is open.
func circuitBlocked(impls Implementations, msg message.Message) (string, bool) {
	for _, impl := range impls.items {
		b, ok := impl.Sender.(*Breaker)
		if !ok || b == nil {
			continue
		}
		if impl.Condition != nil && !impl.Condition.Accept(msg) {
			continue
		}
		if b.blocks(msg) {
			return impl.Name, true
		}
	}
	return "", false
}

func selectMatching(impls Implementations, msg message.Message, firstOnly bool) []Implementation {
	var out []Implementation
	_, _ = each(impls, msg, firstOnly, func(impl Implementation) error {
		out = append(out, impl)
		return nil
	})
	return out
}
