package sms

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/translator"
)

// Scenario enumerates the mock behaviours supported by the SMS sender.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
)

// Delivery is an SMS accepted by the mock sender.
type Delivery struct {
	MessageID string
	To        []string
	Text      string
	At        time.Time
}

// Option customises the mock sender.
type Option func(*MockSender)

// WithScenario sets the scenario applied to every send.
func WithScenario(sc Scenario) Option {
	return func(s *MockSender) { s.scenario = sc }
}

// WithLatency configures the artificial latency injected before sending.
func WithLatency(d time.Duration) Option {
	return func(s *MockSender) {
		if d < 0 {
			d = 0
		}
		s.latency = d
	}
}

// WithClock overrides the clock used to timestamp deliveries.
func WithClock(now func() time.Time) Option {
	return func(s *MockSender) {
		if now != nil {
			s.now = now
		}
	}
}

// MockSender is an in-memory SMS sender.
type MockSender struct {
	logger     zerolog.Logger
	translator translator.Translator
	scenario   Scenario
	latency    time.Duration
	now        func() time.Time

	mu         sync.Mutex
	deliveries []Delivery
}

// NewMockSender constructs a mock SMS sender.
func NewMockSender(tr translator.Translator, logger zerolog.Logger, opts ...Option) *MockSender {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	s := &MockSender{
		logger:     logger.With().Str("component", "mock_sms_sender").Logger(),
		translator: tr,
		scenario:   ScenarioSuccess,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SetScenario changes the behaviour of later sends.
func (s *MockSender) SetScenario(sc Scenario) {
	s.mu.Lock()
	s.scenario = sc
	s.mu.Unlock()
}

// Supports accepts every SMS.
func (s *MockSender) Supports(msg message.Message) bool {
	_, ok := msg.(*message.Sms)
	return ok
}

// Send implements dispatch.Sender.
func (s *MockSender) Send(ctx context.Context, msg message.Message) error {
	sms, ok := msg.(*message.Sms)
	if !ok || sms == nil {
		return dispatch.WrapPermanent(fmt.Errorf("mock sms sender: expected *message.Sms, got %T", msg))
	}
	if len(sms.To) == 0 {
		return dispatch.WrapPermanent(errors.New("mock sms sender: at least one recipient is required"))
	}

	body, err := translator.Materialize(ctx, s.translator, sms.Content)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug().
		Str("scenario", string(s.scenario)).
		Str("message_id", sms.ID()).
		Msg("mock sms sender invoked")

	switch s.scenario {
	case ScenarioTransient:
		return dispatch.WrapTransient(errors.New("mock sms: rate limited"))
	case ScenarioPermanent:
		return dispatch.WrapPermanent(errors.New("mock sms: invalid recipient"))
	}

	text := body.Text
	if text == "" {
		text = body.HTML
	}
	s.deliveries = append(s.deliveries, Delivery{
		MessageID: sms.ID(),
		To:        append([]string(nil), sms.To...),
		Text:      text,
		At:        s.now(),
	})
	return nil
}

// Deliveries returns a copy of the accepted SMS in send order.
func (s *MockSender) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}
