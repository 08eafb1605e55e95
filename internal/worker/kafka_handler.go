package worker

import (
	"context"

	"github.com/example/notification-delivery/internal/kafka/consumer"
)

// NewRecordFromConsumer converts a consumer record into a worker record whose
// commit marks the original offset through cons.
func NewRecordFromConsumer(rec *consumer.Record, cons *consumer.Consumer) *Record {
	if rec == nil {
		return nil
	}

	wr := &Record{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       cloneBytes(rec.Key),
		Value:     cloneBytes(rec.Value),
		Timestamp: rec.Timestamp,
		Headers:   cloneHeaders(rec.Headers),
	}
	if cons != nil {
		wr.WithCommit(func(ctx context.Context) error {
			return cons.Commit(ctx, rec)
		})
	}
	return wr
}

// KafkaHandler returns a consumer.Handler that delegates every record to the
// engine.
func KafkaHandler(engine *Engine, cons *consumer.Consumer) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		if engine == nil || rec == nil {
			return nil
		}
		engine.HandleRecord(ctx, NewRecordFromConsumer(rec, cons))
		return nil
	}
}
