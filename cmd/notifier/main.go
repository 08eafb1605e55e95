package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/app"
	"github.com/example/notification-delivery/internal/config"
	"github.com/example/notification-delivery/internal/kafka/consumer"
	"github.com/example/notification-delivery/internal/kafka/producer"
	kafkapublisher "github.com/example/notification-delivery/internal/kafka/publisher"
	"github.com/example/notification-delivery/internal/logger"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/metrics"
	"github.com/example/notification-delivery/internal/worker"
	emailvalidator "github.com/example/notification-delivery/internal/worker/validator/email"
	smsvalidator "github.com/example/notification-delivery/internal/worker/validator/sms"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	log, err := logger.New("notifier", cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}
	metricsServer := &http.Server{
		Addr:              cfg.App.MetricsAddr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to stop metrics server")
		}
	}()

	prod, err := producer.New(cfg.Kafka.Brokers, logger.Component(log, "kafka"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	statusPublisher := kafkapublisher.NewStatusPublisher(prod, cfg.Kafka.StatusTopic, logger.Component(log, "status-publisher"))
	dlqPublisher := kafkapublisher.NewDLQPublisher(prod, cfg.Kafka.DLQTopic, logger.Component(log, "dlq-publisher"))

	pipeline, err := app.Build(cfg, app.Options{
		Status:  statusPublisher,
		Metrics: collector,
		Logger:  log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble delivery pipeline")
	}

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger.Component(log, "consumer"), cfg.Kafka.CommitOnSuccessOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	topics := make(map[string]message.Channel)
	if cfg.Kafka.EmailRequestTopic != "" {
		topics[cfg.Kafka.EmailRequestTopic] = message.ChannelEmail
	}
	if cfg.Kafka.SMSRequestTopic != "" {
		topics[cfg.Kafka.SMSRequestTopic] = message.ChannelSMS
	}

	engine, err := worker.NewEngine(worker.Config{
		Topics:            topics,
		MsgMaxBytes:       cfg.Validation.MsgMaxBytes,
		WorkerConcurrency: cfg.Delivery.MaxConcurrent,
	}, worker.Dependencies{
		Sender: pipeline.Service,
		Validators: map[message.Channel]worker.Validator{
			message.ChannelEmail: emailvalidator.New(cfg.Validation, logger.Component(log, "email-validator")),
			message.ChannelSMS:   smsvalidator.New(cfg.Validation, logger.Component(log, "sms-validator")),
		},
		Status: statusPublisher,
		DLQ:    dlqPublisher,
		Logger: logger.Component(log, "worker-engine"),
		Now:    time.Now,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise worker engine")
	}
	// Runs before the consumer and producer are closed.
	defer engine.Wait()

	handler := worker.KafkaHandler(engine, cons)

	errCh := make(chan error, 1)
	go func() {
		if err := cons.Consume(ctx, cfg.Kafka.RequestTopics(), handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().
		Strs("request_topics", cfg.Kafka.RequestTopics()).
		Str("metrics_addr", cfg.App.MetricsAddr).
		Bool("fanout", cfg.Delivery.Fanout).
		Strs("email_senders", pipeline.Email.Implementations.Names()).
		Strs("sms_senders", pipeline.Sms.Implementations.Names()).
		Msg("notifier started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("consumer terminated with error")
		}
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("notifier init failed")
}
