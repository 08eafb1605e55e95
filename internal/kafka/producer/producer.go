package producer

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
	defaultMetadataRefreshInterval = 30 * time.Second
	defaultClientID                = "notifier-producer"
)

// Option customises the producer during construction.
type Option func(*options)

type options struct {
	config          *sarama.Config
	refreshInterval time.Duration
	clientID        string
}

// WithConfig allows callers to supply a preconfigured Sarama config. The
// configuration is cloned internally so the caller retains ownership.
func WithConfig(cfg *sarama.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// WithMetadataRefreshInterval overrides the interval used when refreshing
// cluster metadata to keep readiness information current.
func WithMetadataRefreshInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.refreshInterval = interval
		}
	}
}

// WithClientID sets the Kafka client id reported to the brokers.
func WithClientID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.clientID = id
		}
	}
}

// Producer wraps a Sarama sync producer. Status events and DLQ records are
// published synchronously so a record is only committed once its outcome
// reached Kafka.
type Producer struct {
	logger zerolog.Logger

	client       sarama.Client
	syncProducer sarama.SyncProducer

	refreshInterval time.Duration

	ready atomic.Bool

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Producer using the supplied broker list and logger.
func New(brokers []string, logger zerolog.Logger, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	settings := &options{
		config:          defaultConfig(),
		refreshInterval: defaultMetadataRefreshInterval,
		clientID:        defaultClientID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	cfg := cloneConfig(settings.config)
	cfg.ClientID = settings.clientID
	cfg.Metadata.RefreshFrequency = settings.refreshInterval

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}

	syncProd, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}

	p := newProducer(syncProd, logger)
	p.client = client
	p.refreshInterval = settings.refreshInterval

	if err := p.client.RefreshMetadata(); err != nil {
		p.logger.Error().Err(err).Msg("kafka producer initial metadata refresh failed")
	} else {
		p.ready.Store(true)
	}

	p.wg.Add(1)
	go p.watchMetadata()

	return p, nil
}

// NewFromSyncProducer wraps an existing sync producer. No metadata watcher
// runs; readiness follows the outcome of the last publish.
func NewFromSyncProducer(sp sarama.SyncProducer, logger zerolog.Logger) (*Producer, error) {
	if sp == nil {
		return nil, errors.New("kafka producer: sync producer is required")
	}
	p := newProducer(sp, logger)
	p.ready.Store(true)
	return p, nil
}

func newProducer(sp sarama.SyncProducer, logger zerolog.Logger) *Producer {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Producer{
		logger:       logger.With().Str("component", "kafka_producer").Logger(),
		syncProducer: sp,
		stopCh:       make(chan struct{}),
	}
}

// PublishSync publishes a message and waits for the Kafka broker to acknowledge
// receipt. Required acks default to WaitForAll due to the default config.
func (p *Producer) PublishSync(ctx context.Context, topic string, key []byte, headers map[string][]byte, payload []byte) error {
	if topic == "" {
		return errors.New("kafka producer: topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(payload),
		Headers: toRecordHeaders(headers),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, offset, err := p.syncProducer.SendMessage(msg)
	if err != nil {
		p.ready.Store(false)
		return fmt.Errorf("kafka producer: send sync: %w", err)
	}

	p.ready.Store(true)
	p.logger.Debug().
		Str("topic", topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("kafka producer message acknowledged")
	return nil
}

// IsReady indicates whether the producer has successfully refreshed metadata
// or published recently.
func (p *Producer) IsReady() bool {
	return p.ready.Load()
}

// Close releases the underlying Sarama producer and stops background goroutines.
func (p *Producer) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		if err := p.syncProducer.Close(); err != nil {
			errs = append(errs, err)
		}
		if p.client != nil && !p.client.Closed() {
			if err := p.client.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (p *Producer) watchMetadata() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.client.RefreshMetadata(); err != nil {
				p.logger.Error().Err(err).Msg("kafka producer metadata refresh failed")
				p.ready.Store(false)
			} else {
				p.ready.Store(true)
			}
		}
	}
}

func toRecordHeaders(headers map[string][]byte) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{
			Key:   []byte(k),
			Value: cloneBytes(v),
		})
	}
	return out
}

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Metadata.Full = true
	cfg.Metadata.RefreshFrequency = defaultMetadataRefreshInterval
	return cfg
}

func cloneConfig(cfg *sarama.Config) *sarama.Config {
	if cfg == nil {
		return defaultConfig()
	}
	cloned := *cfg
	return &cloned
}
