// Package factory assembles the ordered sender implementations of each
// channel together with the conditions that enable them.
package factory

import (
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/condition"
	"github.com/example/notification-delivery/internal/dispatch"
	emailprovider "github.com/example/notification-delivery/internal/providers/email"
	smsprovider "github.com/example/notification-delivery/internal/providers/sms"
	"github.com/example/notification-delivery/internal/translator"
)

// Capability names probed by the implementation conditions.
const (
	CapabilitySMTP   = "smtp"
	CapabilityTwilio = "twilio"
	CapabilityMock   = "mock"
)

// MockEnabledKey switches the in-memory senders on when set to "true".
const MockEnabledKey = "notifier.mock.enabled"

// DefaultCapabilities lists the backends compiled into this binary.
func DefaultCapabilities() []string {
	return []string{CapabilitySMTP, CapabilityTwilio, CapabilityMock}
}

// Dependencies collects what the senders need.
type Dependencies struct {
	Properties   condition.PropertyResolver
	Capabilities condition.CapabilityProbe
	Translator   translator.Translator
	Logger       zerolog.Logger
	// Breaker wraps the network senders when set.
	Breaker       *dispatch.BreakerSettings
	SMTPOptions   []emailprovider.SMTPOption
	TwilioOptions []smsprovider.TwilioOption
}

// Set is the result of building a channel: the implementations plus the
// mock sender so callers can inspect what it accepted.
type Set[M any] struct {
	Implementations dispatch.Implementations
	Mock            M
}

// Email builds the email implementations in priority order: SMTP, then mock.
func Email(deps Dependencies) Set[*emailprovider.MockSender] {
	logger := loggerOf(deps)
	props := deps.Properties

	smtpCondition := condition.Capability(deps.Capabilities, CapabilitySMTP).And(
		condition.AnyOf(
			condition.Property(props, "mail.host"),
			condition.Property(props, "mail.smtp.host"),
		),
		condition.AnyOf(
			condition.Property(props, "mail.port"),
			condition.Property(props, "mail.smtp.port"),
		),
	)
	smtp := emailprovider.NewSMTPSender(props, deps.Translator, logger, deps.SMTPOptions...)
	mock := emailprovider.NewMockSender(deps.Translator, logger)

	impls := dispatch.NewImplementations(
		dispatch.Implementation{Name: "smtp", Condition: smtpCondition, Sender: guard(deps, "smtp", smtp)},
		dispatch.Implementation{Name: "mock-email", Condition: mockCondition(deps), Sender: mock},
	)
	logImplementations(logger, "email", impls)
	return Set[*emailprovider.MockSender]{Implementations: impls, Mock: mock}
}

// Sms builds the SMS implementations in priority order: Twilio, then mock.
func Sms(deps Dependencies) Set[*smsprovider.MockSender] {
	logger := loggerOf(deps)
	props := deps.Properties

	twilioCondition := condition.Capability(deps.Capabilities, CapabilityTwilio).And(
		condition.Property(props, smsprovider.AccountSIDKey),
		condition.Property(props, smsprovider.AuthTokenKey),
	)
	twilio := smsprovider.NewTwilioSender(props, deps.Translator, logger, deps.TwilioOptions...)
	mock := smsprovider.NewMockSender(deps.Translator, logger)

	impls := dispatch.NewImplementations(
		dispatch.Implementation{Name: "twilio", Condition: twilioCondition, Sender: guard(deps, "twilio", twilio)},
		dispatch.Implementation{Name: "mock-sms", Condition: mockCondition(deps), Sender: mock},
	)
	logImplementations(logger, "sms", impls)
	return Set[*smsprovider.MockSender]{Implementations: impls, Mock: mock}
}

func mockCondition(deps Dependencies) condition.Condition {
	return condition.Capability(deps.Capabilities, CapabilityMock).
		And(condition.PropertyValue(deps.Properties, MockEnabledKey, "true"))
}

func guard(deps Dependencies, name string, sender dispatch.Sender) dispatch.Sender {
	if deps.Breaker == nil {
		return sender
	}
	return dispatch.NewBreaker(name, sender, *deps.Breaker, loggerOf(deps))
}

func loggerOf(deps Dependencies) zerolog.Logger {
	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return logger
}

func logImplementations(logger zerolog.Logger, channel string, impls dispatch.Implementations) {
	for _, impl := range impls.All() {
		logger.Debug().
			Str("channel", channel).
			Str("sender", impl.Name).
			Str("condition", fmt.Sprint(impl.Condition)).
			Msg("sender implementation registered")
	}
}
