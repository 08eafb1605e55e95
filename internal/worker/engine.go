// Package worker turns Kafka request records into deliveries. Each record is
// validated, sent through the delivery service and, when it cannot be
// delivered, written to the DLQ before its offset is committed.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/notification-delivery/internal/delivery"
	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/models"
	"github.com/example/notification-delivery/internal/retry"
	"github.com/example/notification-delivery/internal/translator"
)

// ChannelHeader lets producers override the topic to channel mapping.
const ChannelHeader = "channel"

// Config contains the runtime settings of the engine.
type Config struct {
	// Topics maps request topics to the channel of their records.
	Topics            map[string]message.Channel
	MsgMaxBytes       int
	WorkerConcurrency int
}

// Record represents a Kafka message delivered to the worker. It keeps the
// engine decoupled from the concrete consumer implementation.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	commit func(context.Context) error
}

// WithCommit binds the function used to commit the record offset.
func (r *Record) WithCommit(fn func(context.Context) error) *Record {
	r.commit = fn
	return r
}

// Clone returns a deep copy of the record so it can be safely shared with
// asynchronous goroutines without risking data races.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Key = cloneBytes(r.Key)
	clone.Value = cloneBytes(r.Value)
	clone.Headers = cloneHeaders(r.Headers)
	return &clone
}

// ValidatedMessage is a request that passed validation together with the
// identifiers used by status events and DLQ records.
type ValidatedMessage struct {
	Channel   message.Channel
	MessageID string
	TraceID   string
	CreatedAt time.Time
	Meta      map[string]string
	Message   message.Message

	RawPayload []byte
}

// Validator parses and validates the payload of one channel. When an error
// is returned the message may be nil or partially populated.
type Validator interface {
	ParseAndValidate(ctx context.Context, payload []byte) (*ValidatedMessage, error)
}

// Sender delivers a message, retrying as configured. delivery.Service
// implements it.
type Sender interface {
	Send(ctx context.Context, msg message.Message) error
}

// StatusPublisher publishes wire status events for records rejected before
// delivery started.
type StatusPublisher interface {
	Publish(ctx context.Context, event models.StatusEvent) error
}

// DLQPublisher writes records that will not be delivered.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, record models.DLQRecord) error
}

// Dependencies collects the runtime collaborators required by the engine.
type Dependencies struct {
	Sender     Sender
	Validators map[message.Channel]Validator
	Status     StatusPublisher
	DLQ        DLQPublisher
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Engine orchestrates validation, delivery, DLQ handling and offset commits
// for inbound Kafka records.
type Engine struct {
	cfg        Config
	sender     Sender
	validators map[message.Channel]Validator
	status     StatusPublisher
	dlq        DLQPublisher
	logger     zerolog.Logger

	semaphore *semaphore.Weighted
	inFlight  sync.WaitGroup

	now func() time.Time
}

// NewEngine validates the configuration and collaborators and builds an Engine.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if len(cfg.Topics) == 0 {
		return nil, errors.New("worker: at least one topic must be mapped to a channel")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, errors.New("worker: worker concurrency must be >= 1")
	}
	if cfg.MsgMaxBytes < 0 {
		return nil, errors.New("worker: msg max bytes cannot be negative")
	}
	if deps.Sender == nil {
		return nil, errors.New("worker: sender dependency is required")
	}
	if deps.DLQ == nil {
		return nil, errors.New("worker: DLQ publisher dependency is required")
	}
	for topic, ch := range cfg.Topics {
		if deps.Validators[ch] == nil {
			return nil, fmt.Errorf("worker: no validator for channel %s of topic %s", ch, topic)
		}
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Engine{
		cfg:        cfg,
		sender:     deps.Sender,
		validators: deps.Validators,
		status:     deps.Status,
		dlq:        deps.DLQ,
		logger:     logger.With().Str("component", "worker_engine").Logger(),
		semaphore:  semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		now:        nowFunc,
	}, nil
}

// HandleRecord validates the record and starts its delivery in the
// background. Rejected records go straight to the DLQ and are committed.
func (e *Engine) HandleRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}

	channel, ok := e.channelOf(record)
	if !ok {
		e.reject(ctx, record, &ValidatedMessage{}, fmt.Errorf("worker: no channel configured for topic %q", record.Topic))
		return
	}

	if e.cfg.MsgMaxBytes > 0 && len(record.Value) > e.cfg.MsgMaxBytes {
		err := fmt.Errorf("payload exceeds maximum size: got %d bytes, limit %d bytes", len(record.Value), e.cfg.MsgMaxBytes)
		e.reject(ctx, record, &ValidatedMessage{Channel: channel}, err)
		return
	}

	validated, err := e.validators[channel].ParseAndValidate(ctx, record.Value)
	if err == nil && (validated == nil || validated.Message == nil) {
		err = errors.New("worker: validator returned no message")
	}
	if err != nil {
		if validated == nil {
			validated = &ValidatedMessage{}
		}
		if validated.Channel == "" {
			validated.Channel = channel
		}
		e.reject(ctx, record, validated, err)
		return
	}
	if validated.MessageID == "" {
		validated.MessageID = validated.Message.ID()
	}
	validated.RawPayload = cloneBytes(record.Value)

	if err := e.semaphore.Acquire(ctx, 1); err != nil {
		e.logger.Error().
			Str("channel", string(validated.Channel)).
			Str("message_id", validated.MessageID).
			Err(err).
			Msg("worker: failed to acquire concurrency semaphore")
		return
	}

	e.inFlight.Add(1)
	go e.processRecord(ctx, record.Clone(), validated)
}

// Wait blocks until every started delivery returned.
func (e *Engine) Wait() {
	e.inFlight.Wait()
}

func (e *Engine) processRecord(ctx context.Context, record *Record, msg *ValidatedMessage) {
	defer e.inFlight.Done()
	defer e.semaphore.Release(1)

	logger := e.logger.With().
		Str("channel", string(msg.Channel)).
		Str("message_id", msg.MessageID).
		Logger()

	if ctx.Err() != nil {
		logger.Warn().Msg("worker: context cancelled before processing began")
		return
	}

	ctx = models.ContextWithTraceID(ctx, msg.TraceID)
	err := e.sender.Send(ctx, msg.Message)
	if err == nil {
		e.commitRecord(ctx, record)
		return
	}

	if ctx.Err() != nil || errors.Is(err, retry.ErrInterrupted) {
		logger.Warn().Err(err).Msg("worker: delivery interrupted; deferring commit for reprocessing")
		return
	}

	failures := retry.FailuresOf(err)
	dlq := e.dlqRecord(msg, Classify(err), err)
	dlq.Attempts = len(failures)
	for _, f := range failures {
		dlq.Errors = append(dlq.Errors, f.Err.Error())
	}
	if len(failures) > 0 {
		dlq.FirstFailedAt = failures[0].FailedAt
		dlq.LastAttemptAt = failures[len(failures)-1].FailedAt
	}

	logger.Warn().
		Str("failure_type", dlq.FailureType).
		Int("attempts", dlq.Attempts).
		Err(err).
		Msg("worker: message could not be delivered")
	e.publishDLQ(ctx, dlq)
	e.commitRecord(ctx, record)
}

// Classify maps a delivery error onto a DLQ failure type.
func Classify(err error) string {
	var te *translator.TranslationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, delivery.ErrUnsupportedChannel):
		return models.FailureTypeValidation
	case errors.Is(err, dispatch.ErrNoSenderAvailable):
		return models.FailureTypeNoSender
	case errors.Is(err, translator.ErrNoContent), errors.As(err, &te):
		return models.FailureTypeContent
	case errors.Is(err, dispatch.ErrPermanent):
		return models.FailureTypePermanent
	case errors.Is(err, retry.ErrMaximumAttemptsReached), errors.Is(err, dispatch.ErrTransient):
		return models.FailureTypeTransient
	default:
		return models.FailureTypeUnknown
	}
}

func (e *Engine) channelOf(record *Record) (message.Channel, bool) {
	if raw, ok := record.Headers[ChannelHeader]; ok && len(raw) > 0 {
		ch := message.Channel(raw)
		_, known := e.validators[ch]
		return ch, known
	}
	ch, ok := e.cfg.Topics[record.Topic]
	return ch, ok
}

func (e *Engine) reject(ctx context.Context, record *Record, msg *ValidatedMessage, err error) {
	if msg.MessageID == "" {
		msg.MessageID = string(record.Key)
	}
	msg.RawPayload = cloneBytes(record.Value)

	e.logger.Warn().
		Str("channel", string(msg.Channel)).
		Str("message_id", msg.MessageID).
		Str("topic", record.Topic).
		Err(err).
		Msg("worker: record rejected")

	now := e.now()
	e.publishStatus(ctx, models.StatusEvent{
		MessageID: msg.MessageID,
		Channel:   string(msg.Channel),
		EventType: models.StatusEventFailed,
		Error:     err.Error(),
		TraceID:   msg.TraceID,
		Timestamp: now,
	})
	dlq := e.dlqRecord(msg, models.FailureTypeValidation, err)
	dlq.FirstFailedAt = now
	dlq.LastAttemptAt = now
	e.publishDLQ(ctx, dlq)
	e.commitRecord(ctx, record)
}

func (e *Engine) dlqRecord(msg *ValidatedMessage, failureType string, err error) models.DLQRecord {
	record := models.DLQRecord{
		MessageID:   msg.MessageID,
		Channel:     string(msg.Channel),
		FailureType: failureType,
		LastError:   err.Error(),
		TraceID:     msg.TraceID,
		Meta:        msg.Meta,
	}
	if json.Valid(msg.RawPayload) {
		record.OriginalMessage = json.RawMessage(msg.RawPayload)
	} else {
		record.RawPayload = msg.RawPayload
	}
	return record
}

func (e *Engine) publishStatus(ctx context.Context, event models.StatusEvent) {
	if e.status == nil {
		return
	}
	if err := e.status.Publish(ctx, event); err != nil {
		e.logger.Error().
			Str("message_id", event.MessageID).
			Str("event", event.EventType).
			Err(err).
			Msg("worker: failed to publish status event")
	}
}

func (e *Engine) publishDLQ(ctx context.Context, record models.DLQRecord) {
	now := e.now()
	if record.FirstFailedAt.IsZero() {
		record.FirstFailedAt = now
	}
	if record.LastAttemptAt.IsZero() {
		record.LastAttemptAt = record.FirstFailedAt
	}
	if err := e.dlq.PublishDLQ(ctx, record); err != nil {
		e.logger.Error().
			Str("channel", record.Channel).
			Str("message_id", record.MessageID).
			Err(err).
			Msg("worker: failed to publish DLQ record")
		return
	}
	e.publishStatus(ctx, models.StatusEvent{
		MessageID: record.MessageID,
		Channel:   record.Channel,
		EventType: models.StatusEventDLQ,
		Attempt:   record.Attempts,
		Error:     record.LastError,
		TraceID:   record.TraceID,
		Timestamp: now,
	})
}

func (e *Engine) commitRecord(ctx context.Context, record *Record) {
	if record == nil || record.commit == nil {
		return
	}
	if err := record.commit(ctx); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to commit record offset")
	}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}

func cloneHeaders(headers map[string][]byte) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	clone := make(map[string][]byte, len(headers))
	for k, v := range headers {
		clone[k] = cloneBytes(v)
	}
	return clone
}
