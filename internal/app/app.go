// Package app assembles the delivery pipeline from configuration. It is
// shared by the Kafka worker and the one-shot send command.
package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/config"
	"github.com/example/notification-delivery/internal/delivery"
	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/env"
	"github.com/example/notification-delivery/internal/logger"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/metrics"
	emailprovider "github.com/example/notification-delivery/internal/providers/email"
	"github.com/example/notification-delivery/internal/providers/factory"
	smsprovider "github.com/example/notification-delivery/internal/providers/sms"
	"github.com/example/notification-delivery/internal/retry"
	"github.com/example/notification-delivery/internal/translator"
)

// Options overrides parts of the assembly. Zero values fall back to what
// the configuration describes.
type Options struct {
	// Templates replaces the template directory.
	Templates fs.FS
	// Properties replaces the layered property sources.
	Properties env.Resolver
	Status     delivery.StatusPublisher
	Metrics    *metrics.Collector
	Awaiter    retry.Awaiter
	Logger     zerolog.Logger
}

// Pipeline is the assembled delivery service together with the pieces
// callers may want to inspect.
type Pipeline struct {
	Service      *delivery.Service
	Properties   env.Resolver
	Capabilities *env.Capabilities
	Email        factory.Set[*emailprovider.MockSender]
	Sms          factory.Set[*smsprovider.MockSender]
}

// Properties layers the configured property sources: process environment
// first, then the YAML file, then the dotenv files.
func Properties(cfg config.PropertiesConfig) (env.Layered, error) {
	layers := env.Layered{env.NewEnvResolver(cfg.EnvPrefix)}
	if cfg.File != "" {
		r, err := env.YAMLResolver(cfg.File)
		if err != nil {
			return nil, err
		}
		layers = append(layers, r)
	}
	if len(cfg.DotEnvFiles) > 0 {
		r, err := env.DotEnvResolver(cfg.DotEnvFiles...)
		if err != nil {
			return nil, err
		}
		layers = append(layers, r)
	}
	return layers, nil
}

// Build wires translators, senders, dispatch policies and the retry
// strategy into a delivery service.
func Build(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	base := opts.Logger
	if reflect.ValueOf(base).IsZero() {
		base = zerolog.Nop()
	}

	props := opts.Properties
	if props == nil {
		layered, err := Properties(cfg.Properties)
		if err != nil {
			return nil, fmt.Errorf("app: load properties: %w", err)
		}
		props = layered
	}

	names := cfg.Delivery.Capabilities
	if len(names) == 0 {
		names = factory.DefaultCapabilities()
	}
	caps := env.NewCapabilities(names...)

	templates := opts.Templates
	if templates == nil {
		templates = os.DirFS(cfg.Delivery.TemplateDir)
	}
	collector := opts.Metrics
	tr := translator.NewMultiContentTranslator(
		translator.NewTemplateTranslator(templates),
		logger.Component(base, "translator"),
		translator.WithSkipHook(func(error) { collector.TranslationFailure("recoverable") }),
	)

	deps := factory.Dependencies{
		Properties:   props,
		Capabilities: caps,
		Translator:   tr,
		Logger:       logger.Component(base, "senders"),
	}
	if cfg.Breaker.Enabled {
		deps.Breaker = &dispatch.BreakerSettings{
			ConsecutiveFailures: uint32(cfg.Breaker.ConsecutiveFailures),
			Timeout:             cfg.Breaker.Timeout,
			MaxRequests:         uint32(cfg.Breaker.MaxRequests),
		}
	}
	email := factory.Email(deps)
	sms := factory.Sms(deps)

	policyLogger := logger.Component(base, "dispatch")
	policy := func(impls dispatch.Implementations) dispatch.Policy {
		if cfg.Delivery.Fanout {
			return dispatch.NewEveryMatching(impls, policyLogger)
		}
		return dispatch.NewFirstMatching(impls, policyLogger)
	}

	strategy, err := retry.ProviderFromConfig(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("app: retry strategy: %w", err)
	}
	awaiter := opts.Awaiter
	if awaiter == nil {
		awaiter = retry.SleepAwaiter{}
	}

	svc, err := delivery.NewService(delivery.Config{MaxConcurrent: cfg.Delivery.MaxConcurrent}, delivery.Dependencies{
		Policies: map[message.Channel]dispatch.Policy{
			message.ChannelEmail: policy(email.Implementations),
			message.ChannelSMS:   policy(sms.Implementations),
		},
		Strategy: strategy,
		Awaiter:  awaiter,
		Status:   opts.Status,
		Metrics:  collector,
		Logger:   base,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Service:      svc,
		Properties:   props,
		Capabilities: caps,
		Email:        email,
		Sms:          sms,
	}, nil
}
