package kafkaio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// SinkConfig configures a KafkaSink.
type SinkConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink is the downstream-bus side of PublicationEngine: a franz-go
// producer configured for idempotence, all-ISR acks, and a single
// in-flight request per broker connection.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink dials brokers with a strict-ordering producer
// configuration: idempotent producer (the client default, left enabled),
// ack policy = all replicas, one in-flight produce request per broker
// connection, client-level retries effectively unbounded.
func NewKafkaSink(cfg SinkConfig) (*KafkaSink, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.MaxProduceRequestsInflightPerBroker(1),
		kgo.RecordRetries(maxInt),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkaio: new producer client: %w", err)
	}
	return &KafkaSink{client: cl, topic: cfg.Topic}, nil
}

const maxInt = int(^uint(0) >> 1)

// Publish blocks until payload is acknowledged (or timeout elapses),
// keyed by partitionKey so that all records for the same key preserve
// their send order within the partition.
func (s *KafkaSink) Publish(ctx context.Context, partitionKey string, payload []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(partitionKey),
		Value: payload,
	}

	results := s.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return classifyProduceError(err)
	}
	return nil
}

// Close releases the underlying client, flushing any buffered records.
func (s *KafkaSink) Close() {
	s.client.Close()
}

// classifyProduceError maps a franz-go produce error onto the sentinel
// errors FailureClassifier (internal/dispatch) understands.
func classifyProduceError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrPublishTimeout, err)
	}
	if errors.Is(err, kerr.MessageTooLarge) || errors.Is(err, kerr.RecordListTooLarge) {
		return fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
	}
	if errors.Is(err, kerr.CorruptMessage) || errors.Is(err, kerr.InvalidRecord) {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if errors.Is(err, kerr.InvalidRequest) || errors.Is(err, kerr.InvalidTopicException) {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if errors.Is(err, kerr.NotLeaderForPartition) ||
		errors.Is(err, kerr.LeaderNotAvailable) ||
		errors.Is(err, kerr.UnknownTopicOrPartition) {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	// Unrecognized: FailureClassifier's own fail-safe default already
	// treats anything it doesn't match as SystemFailure, so passing the
	// raw error through here is sufficient and avoids masking it.
	return err
}
