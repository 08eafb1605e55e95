package email

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/translator"
)

// Scenario enumerates the supported mock behaviours. The default scenario is
// success unless overridden via headers or options.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
	ScenarioTimeout   Scenario = "timeout"

	HeaderScenario = "X-Mock-Provider-Scenario"
	HeaderLatency  = "X-Mock-Provider-Latency"
)

// Delivery is an email accepted by the mock sender.
type Delivery struct {
	MessageID string
	To        []string
	Subject   string
	Body      translator.Body
	At        time.Time
}

// Option customizes the behaviour of the mock sender at construction time.
type Option func(*MockSender)

// WithLatencyRange overrides the default latency range used by the mock
// sender when simulating work. Negative values are clamped to zero and if
// max < min it is coerced to min.
func WithLatencyRange(min, max time.Duration) Option {
	return func(s *MockSender) {
		if min < 0 {
			min = 0
		}
		if max < min {
			max = min
		}
		s.minLatency = min
		s.maxLatency = max
	}
}

// WithDefaultScenario configures the behaviour when an email does not select
// a scenario through its headers.
func WithDefaultScenario(sc Scenario) Option {
	return func(s *MockSender) { s.defaultScenario = sc }
}

// WithRandomSeed swaps the RNG seed used to sample latency.
func WithRandomSeed(seed int64) Option {
	return func(s *MockSender) {
		s.rnd = rand.New(rand.NewSource(seed)) // #nosec G404 -- deterministic seed for tests.
	}
}

// WithClock overrides the clock used for delivery timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MockSender) {
		if now != nil {
			s.now = now
		}
	}
}

// MockSender is an in-memory email sender for local development and tests.
// Behaviour can be driven per email with the X-Mock-Provider-* headers.
type MockSender struct {
	logger          zerolog.Logger
	translator      translator.Translator
	minLatency      time.Duration
	maxLatency      time.Duration
	defaultScenario Scenario
	now             func() time.Time

	mu         sync.Mutex
	rnd        *rand.Rand
	deliveries []Delivery
}

// NewMockSender constructs a mock sender. By default it succeeds without
// latency.
func NewMockSender(tr translator.Translator, logger zerolog.Logger, opts ...Option) *MockSender {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	s := &MockSender{
		logger:          logger.With().Str("component", "mock_email_sender").Logger(),
		translator:      tr,
		defaultScenario: ScenarioSuccess,
		now:             time.Now,
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Supports accepts every email.
func (s *MockSender) Supports(msg message.Message) bool {
	_, ok := msg.(*message.Email)
	return ok
}

// Send implements dispatch.Sender.
func (s *MockSender) Send(ctx context.Context, msg message.Message) error {
	email, ok := msg.(*message.Email)
	if !ok || email == nil {
		return dispatch.WrapPermanent(fmt.Errorf("mock email sender: expected *message.Email, got %T", msg))
	}
	if len(email.Recipients()) == 0 {
		return dispatch.WrapPermanent(errors.New("mock email sender: at least one recipient is required"))
	}

	body, err := translator.Materialize(ctx, s.translator, email.Content)
	if err != nil {
		return err
	}

	if latency := s.sampleLatency(email.Headers); latency > 0 {
		if err := sleep(ctx, latency); err != nil {
			return err
		}
	}

	scenario := s.resolveScenario(email.Headers)
	s.logger.Debug().
		Str("scenario", string(scenario)).
		Str("message_id", email.ID()).
		Msg("mock email sender invoked")

	switch scenario {
	case ScenarioPermanent:
		return dispatch.WrapPermanent(errors.New("smtp 550: mock: mailbox unavailable"))
	case ScenarioTransient:
		return dispatch.WrapTransient(errors.New("smtp 451: mock: requested action aborted, try again later"))
	case ScenarioTimeout:
		return dispatch.WrapTransient(errors.New("mock: provider timed out"))
	}

	s.mu.Lock()
	s.deliveries = append(s.deliveries, Delivery{
		MessageID: email.ID(),
		To:        email.Recipients(),
		Subject:   email.Subject,
		Body:      body,
		At:        s.now(),
	})
	s.mu.Unlock()
	return nil
}

// Deliveries returns a copy of the accepted emails in send order.
func (s *MockSender) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

func (s *MockSender) resolveScenario(headers map[string]string) Scenario {
	value, ok := pickHeader(headers, HeaderScenario)
	if !ok || value == "" {
		return s.defaultScenario
	}
	switch Scenario(strings.ToLower(strings.TrimSpace(value))) {
	case ScenarioPermanent:
		return ScenarioPermanent
	case ScenarioTransient:
		return ScenarioTransient
	case ScenarioTimeout:
		return ScenarioTimeout
	default:
		return ScenarioSuccess
	}
}

func (s *MockSender) sampleLatency(headers map[string]string) time.Duration {
	if value, ok := pickHeader(headers, HeaderLatency); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d >= 0 {
			return d
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxLatency <= s.minLatency {
		return s.minLatency
	}
	delta := s.maxLatency - s.minLatency
	return s.minLatency + time.Duration(s.rnd.Int63n(int64(delta)+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pickHeader(headers map[string]string, key string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
