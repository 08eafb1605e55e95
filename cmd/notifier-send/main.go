// Command notifier-send delivers one request document directly, without
// Kafka. It reads the same JSON payload the worker consumes and runs it
// through validation, translation, dispatch and retries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/app"
	"github.com/example/notification-delivery/internal/config"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/models"
	"github.com/example/notification-delivery/internal/retry"
	"github.com/example/notification-delivery/internal/worker"
	emailvalidator "github.com/example/notification-delivery/internal/worker/validator/email"
	smsvalidator "github.com/example/notification-delivery/internal/worker/validator/sms"
)

func main() {
	channel := flag.String("channel", string(message.ChannelEmail), "request channel: email or sms")
	file := flag.String("file", "-", "request document, - for stdin")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall delivery deadline")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadDelivery()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	payload, err := readPayload(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("failed to read request")
	}

	var validator worker.Validator
	switch message.Channel(*channel) {
	case message.ChannelEmail:
		validator = emailvalidator.New(cfg.Validation, log)
	case message.ChannelSMS:
		validator = smsvalidator.New(cfg.Validation, log)
	default:
		log.Fatal().Str("channel", *channel).Msg("unsupported channel")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	validated, err := validator.ParseAndValidate(ctx, payload)
	if err != nil {
		log.Fatal().Err(err).Msg("request rejected")
	}

	pipeline, err := app.Build(cfg, app.Options{Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble delivery pipeline")
	}

	started := time.Now()
	err = pipeline.Service.Send(models.ContextWithTraceID(ctx, validated.TraceID), validated.Message)
	if err != nil {
		event := log.Error().Err(err).Str("message_id", validated.MessageID)
		if failures := retry.FailuresOf(err); len(failures) > 0 {
			event = event.Int("attempts", len(failures))
		}
		event.Msg("delivery failed")
		if errors.Is(err, retry.ErrInterrupted) {
			os.Exit(130)
		}
		os.Exit(1)
	}

	log.Info().
		Str("message_id", validated.MessageID).
		Dur("duration", time.Since(started)).
		Msg("message delivered")
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}
