package consumer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const (
	defaultSessionTimeout   = 30 * time.Second
	defaultHeartbeat        = 3 * time.Second
	defaultRebalanceTimeout = 30 * time.Second
	defaultConsumeBackoff   = time.Second
	defaultClientID         = "notifier-consumer"
)

// Handler is invoked for every record delivered by the consumer. A returned
// error is logged; the record stays uncommitted unless the handler committed
// it.
type Handler func(ctx context.Context, record *Record) error

// Option customises the consumer during construction.
type Option func(*options)

type options struct {
	config *sarama.Config
}

// WithConfig allows callers to supply a Sarama config. The configuration is
// cloned internally so the caller retains ownership.
func WithConfig(cfg *sarama.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// Consumer wraps a Sarama consumer group with manual commit support and
// readiness tracking.
type Consumer struct {
	logger zerolog.Logger

	group        sarama.ConsumerGroup
	groupID      string
	commitOnAck  bool
	errorsDoneCh chan struct{}

	ready atomic.Bool

	mu      sync.RWMutex
	handler Handler
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// Record represents a Kafka message delivered by the consumer.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
	tracker *offsetTracker
	slot    *pendingOffset

	mu        sync.Mutex
	committed bool
}

// offsetTracker releases the offsets of one partition claim in consumption
// order. Records finish concurrently, and marking offset N commits every
// earlier offset, so a finished record is only marked once all records
// before it finished too.
type offsetTracker struct {
	mu      sync.Mutex
	pending []*pendingOffset
}

type pendingOffset struct {
	message *sarama.ConsumerMessage
	done    bool
}

func (t *offsetTracker) add(msg *sarama.ConsumerMessage) *pendingOffset {
	slot := &pendingOffset{message: msg}
	t.mu.Lock()
	t.pending = append(t.pending, slot)
	t.mu.Unlock()
	return slot
}

// complete flags slot as finished and returns the last message of the
// finished prefix, or nil when an earlier record is still in flight.
func (t *offsetTracker) complete(slot *pendingOffset) *sarama.ConsumerMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot.done = true
	var last *sarama.ConsumerMessage
	for len(t.pending) > 0 && t.pending[0].done {
		last = t.pending[0].message
		t.pending[0] = nil
		t.pending = t.pending[1:]
	}
	return last
}

// New constructs a consumer for the supplied brokers and consumer group.
func New(brokers []string, groupID string, logger zerolog.Logger, commitOnSuccessOnly bool, opts ...Option) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer: at least one broker is required")
	}
	if groupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}

	settings := &options{
		config: defaultConfig(commitOnSuccessOnly),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	cfg := cloneConfig(settings.config)
	cfg.Consumer.Offsets.AutoCommit.Enable = !commitOnSuccessOnly

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: create consumer group: %w", err)
	}

	c := newConsumer(group, groupID, logger, commitOnSuccessOnly)
	go c.consumeErrors()
	return c, nil
}

func newConsumer(group sarama.ConsumerGroup, groupID string, logger zerolog.Logger, commitOnAck bool) *Consumer {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Consumer{
		logger:       logger.With().Str("component", "kafka_consumer").Logger(),
		group:        group,
		groupID:      groupID,
		commitOnAck:  commitOnAck,
		errorsDoneCh: make(chan struct{}),
	}
}

// Consume subscribes to the provided topics and invokes the supplied handler
// for each record. The call blocks until the provided context is cancelled or
// the group is closed.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler Handler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: at least one topic is required")
	}
	if handler == nil {
		return errors.New("kafka consumer: handler is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.handler = handler
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	defer c.wg.Done()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.group.Consume(ctx, topics, &groupHandler{consumer: c})
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error().Err(err).Strs("topics", topics).Msg("kafka consumer: consume error")
			timer := time.NewTimer(defaultConsumeBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// Commit marks the record as processed. Offsets advance only over the
// contiguous run of processed records of a partition, so a record still in
// flight is redelivered after a restart even when later records finished.
// When commit-on-success is enabled the offset is flushed immediately;
// otherwise it is marked and relies on the configured auto-commit interval.
// Committing twice is a no-op.
func (c *Consumer) Commit(_ context.Context, record *Record) error {
	if record == nil {
		return errors.New("kafka consumer: record is required")
	}
	if record.session == nil || record.message == nil {
		return errors.New("kafka consumer: record missing session data")
	}

	record.mu.Lock()
	if record.committed {
		record.mu.Unlock()
		return nil
	}
	record.committed = true
	record.mu.Unlock()

	msg := record.message
	if record.tracker != nil {
		if msg = record.tracker.complete(record.slot); msg == nil {
			return nil
		}
	}
	record.session.MarkMessage(msg, "")
	if c.commitOnAck {
		record.session.Commit()
	}
	return nil
}

// IsReady returns true once the consumer has joined the group and is actively
// consuming.
func (c *Consumer) IsReady() bool {
	return c.ready.Load()
}

// Close shuts down the consumer group and associated goroutines.
func (c *Consumer) Close() error {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	<-c.errorsDoneCh
	return err
}

func (c *Consumer) consumeErrors() {
	defer close(c.errorsDoneCh)
	for err := range c.group.Errors() {
		if err != nil {
			c.logger.Error().Err(err).Msg("kafka consumer error")
		}
	}
}

func (c *Consumer) currentHandler() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(true)
	h.consumer.logger.Info().
		Str("group_id", h.consumer.groupID).
		Msg("kafka consumer group ready")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(false)
	h.consumer.logger.Info().
		Str("group_id", h.consumer.groupID).
		Msg("kafka consumer group cleanup")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	handler := h.consumer.currentHandler()
	if handler == nil {
		return errors.New("kafka consumer: message received without handler")
	}
	tracker := &offsetTracker{}

	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			record := &Record{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       cloneBytes(msg.Key),
				Value:     cloneBytes(msg.Value),
				Timestamp: msg.Timestamp,
				Headers:   fromHeaders(msg.Headers),
				session:   session,
				message:   msg,
				tracker:   tracker,
				slot:      tracker.add(msg),
			}
			if err := handler(session.Context(), record); err != nil {
				h.consumer.logger.Error().
					Err(err).
					Str("topic", msg.Topic).
					Int32("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("kafka consumer handler error")
			}
		}
	}
}

func defaultConfig(commitOnSuccessOnly bool) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = defaultClientID

	cfg.Consumer.Group.Session.Timeout = defaultSessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = defaultHeartbeat
	cfg.Consumer.Group.Rebalance.Timeout = defaultRebalanceTimeout
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.BalanceStrategyRange}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Offsets.AutoCommit.Enable = !commitOnSuccessOnly
	cfg.Consumer.Return.Errors = true

	return cfg
}

func cloneConfig(cfg *sarama.Config) *sarama.Config {
	if cfg == nil {
		return defaultConfig(false)
	}
	cloned := *cfg
	return &cloned
}

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func fromHeaders(headers []*sarama.RecordHeader) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(headers))
	for _, h := range headers {
		if h == nil || len(h.Key) == 0 {
			continue
		}
		out[string(h.Key)] = cloneBytes(h.Value)
	}
	return out
}
