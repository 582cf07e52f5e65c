package kafkaio

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/stream"
)

// pausePollInterval is how often Run rechecks the pause flag while paused,
// instead of busy-spinning on it.
const pausePollInterval = 20 * time.Millisecond

// SourceConfig configures a KafkaSource.
type SourceConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// ackHandle is the concrete model.AckHandle a KafkaSource hands out: a
// franz-go record carrying enough to commit its offset later.
type ackHandle struct {
	record *kgo.Record
}

// KafkaSource is the source-stream adapter, backed by franz-go with
// manual offset commit: StoreOffset is only ever called by the caller
// (the persistence core, via the ingestion buffer) after the
// corresponding AuditRecord has committed, never automatically by the
// client.
type KafkaSource struct {
	client  *kgo.Client
	topic   string
	paused  atomic.Bool
}

// NewKafkaSource dials brokers and subscribes to cfg.Topic under cfg.Group,
// with auto-commit disabled so offset commit is always explicit.
func NewKafkaSource(cfg SourceConfig) (*KafkaSource, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkaio: new consumer client: %w", err)
	}
	return &KafkaSource{client: cl, topic: cfg.Topic}, nil
}

// Run delivers messages to handler, one at a time, until ctx is canceled.
// This is the adapter's single delivery goroutine; everything downstream
// of it (IngestionBuffer's flusher) relies on this being the only source
// of ordering.
func (s *KafkaSource) Run(ctx context.Context, handler stream.Handler) error {
	for {
		if s.paused.Load() {
			// Advisory pause: stop polling so the client's internal
			// fetch buffer fills and upstream backpressure propagates
			// over the wire. Sleep rather than spin while paused.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pausePollInterval):
			}
			continue
		}

		fetches := s.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return fmt.Errorf("kafkaio: fetch error: %v", errs[0].Err)
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			handler(ctx, rec.Value, rec.Offset, ackHandle{record: rec})
		})
	}
}

// StoreOffset durably records that ack's offset is processed by
// committing that record's offset to the consumer group with
// CommitRecords, synchronously, on every call. Auto-commit is disabled,
// so the client never commits an offset on its own.
func (s *KafkaSource) StoreOffset(ctx context.Context, ack model.AckHandle) error {
	if ack == nil {
		// Admin-replay-injected messages have no ack handle and no
		// corresponding source-stream offset, so skip without error.
		return nil
	}
	h, ok := ack.(ackHandle)
	if !ok {
		return fmt.Errorf("kafkaio: unexpected ack handle type %T", ack)
	}
	return s.client.CommitRecords(ctx, h.record)
}

// Pause sets the advisory pause hint; Run will stop polling until Resume.
func (s *KafkaSource) Pause() { s.paused.Store(true) }

// Resume clears the advisory pause hint.
func (s *KafkaSource) Resume() { s.paused.Store(false) }

// Close releases the underlying client.
func (s *KafkaSource) Close() { s.client.Close() }
