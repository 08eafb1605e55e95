package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/delivery"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/models"
)

// ErrProducerNotInitialised is returned by publishers built without a producer.
var ErrProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// SyncProducer captures the subset of producer behaviour required by the Kafka publishers.
type SyncProducer interface {
	PublishSync(ctx context.Context, topic string, key []byte, headers map[string][]byte, payload []byte) error
}

var jsonHeaders = map[string][]byte{
	"content-type": []byte("application/json"),
}

// StatusPublisher emits delivery status events to a Kafka topic. It
// implements delivery.StatusPublisher.
type StatusPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

var _ delivery.StatusPublisher = (*StatusPublisher)(nil)

// NewStatusPublisher constructs a StatusPublisher instance.
func NewStatusPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *StatusPublisher {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &StatusPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger.With().Str("component", "status_publisher").Logger(),
	}
}

// PublishStatus converts event into its wire form and writes it synchronously,
// keyed by message id.
func (p *StatusPublisher) PublishStatus(ctx context.Context, msg message.Message, event delivery.StatusEvent) error {
	if p == nil || p.producer == nil {
		return ErrProducerNotInitialised
	}

	wire := models.StatusEvent{
		MessageID:  msg.ID(),
		Channel:    string(msg.Channel()),
		EventType:  event.Type,
		Attempt:    event.Attempt,
		Error:      event.Error,
		DurationMs: event.Duration.Milliseconds(),
		TraceID:    models.TraceIDFrom(ctx),
		Timestamp:  event.Timestamp.UTC(),
	}
	return p.Publish(ctx, wire)
}

// Publish writes an already built status event.
func (p *StatusPublisher) Publish(ctx context.Context, event models.StatusEvent) error {
	if p == nil || p.producer == nil {
		return ErrProducerNotInitialised
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal status event: %w", err)
	}
	if err := p.producer.PublishSync(ctx, p.topic, []byte(event.MessageID), jsonHeaders, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish status event: %w", err)
	}
	p.logger.Debug().
		Str("message_id", event.MessageID).
		Str("event", event.EventType).
		Msg("status event published")
	return nil
}

// DLQPublisher writes DLQ records to the configured Kafka topic.
type DLQPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewDLQPublisher constructs a DLQPublisher instance.
func NewDLQPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *DLQPublisher {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &DLQPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger.With().Str("component", "dlq_publisher").Logger(),
	}
}

// PublishDLQ writes the supplied DLQ record to Kafka synchronously.
func (p *DLQPublisher) PublishDLQ(ctx context.Context, record models.DLQRecord) error {
	if p == nil || p.producer == nil {
		return ErrProducerNotInitialised
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal dlq record: %w", err)
	}

	if err := p.producer.PublishSync(ctx, p.topic, []byte(record.MessageID), jsonHeaders, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish dlq record: %w", err)
	}
	p.logger.Info().
		Str("message_id", record.MessageID).
		Str("failure_type", record.FailureType).
		Msg("dlq record published")
	return nil
}
