package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/stream"
)

// Publisher is the narrow slice of kafkaio.KafkaSink that PublicationEngine
// depends on, so tests can supply an in-memory fake instead of a broker.
type Publisher interface {
	Publish(ctx context.Context, partitionKey string, payload []byte, timeout time.Duration) error
}

// PublicationEngine is a prefix-safe walk over a portfolio's pending
// outbox entries that stops at the first unpublishable entry rather than
// reordering around it.
type PublicationEngine struct {
	sink    Publisher
	codec   stream.Codec
	timeout time.Duration
}

// NewPublicationEngine builds a PublicationEngine. codec is used to sanity-
// decode a stored payload before it is republished; a payload that fails
// to decode is, by definition, permanently unpublishable.
func NewPublicationEngine(sink Publisher, codec stream.Codec, publishTimeout time.Duration) *PublicationEngine {
	return &PublicationEngine{sink: sink, codec: codec, timeout: publishTimeout}
}

// ProcessBatch publishes entries in order, stopping at the first entry that
// cannot be published. entries must already be a single portfolio's
// outbox rows in (created_at, id) order; PublicationEngine does not sort.
func (e *PublicationEngine) ProcessBatch(ctx context.Context, entries []model.OutboxEntry) Result {
	successful := make([]int64, 0, len(entries))

	for _, entry := range entries {
		if _, err := e.codec.Decode(entry.Payload); err != nil {
			return PoisonPillResult{
				Successful: successful,
				FailedID:   entry.ID,
				Reason:     fmt.Sprintf("%v: %v", ErrDecodeFailure, err),
			}
		}

		err := e.sink.Publish(ctx, entry.PortfolioID, entry.Payload, e.timeout)
		if err == nil {
			successful = append(successful, entry.ID)
			continue
		}

		class, reason := Classify(err)
		if class == ClassPoisonPill {
			return PoisonPillResult{Successful: successful, FailedID: entry.ID, Reason: reason}
		}
		// ClassSystemFailure (and the unreachable ClassUnknown, since err
		// is non-nil here) both mean "stop, retry the whole group later".
		return SystemFailureResult{Successful: successful}
	}

	return Success{IDs: successful}
}
