// Package stream holds the narrow interfaces the ingestion core depends on
// for talking to the source stream (Adapter) and for turning raw bytes into
// domain events (Classifier), plus the concrete JSON wire codec.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tradecapture/ingress/internal/model"
)

// Handler is invoked once per message received from the source stream, in
// stream order, on the adapter's single delivery goroutine.
type Handler func(ctx context.Context, raw []byte, offset int64, ack model.AckHandle)

// Adapter is the narrow contract required of the source stream client:
// single-goroutine delivery, explicit offset commit, and an advisory
// pause/resume hint used by backpressure. It is implemented concretely by
// internal/kafkaio.KafkaSource.
type Adapter interface {
	// Run delivers messages to handler until ctx is canceled or an
	// unrecoverable connection error occurs.
	Run(ctx context.Context, handler Handler) error
	// StoreOffset durably records that offset has been fully processed.
	// It is the caller's responsibility to only call this after the
	// corresponding AuditRecord has committed (ack-after-persist).
	StoreOffset(ctx context.Context, ack model.AckHandle) error
	// Pause is an advisory hint: stop delivering new messages until Resume.
	Pause()
	// Resume reverses a prior Pause.
	Resume()
}

// Codec turns raw bytes into a TradeEvent, or reports why it could not.
// Classifier wraps a Codec with field-level validation, so most callers
// should use Classifier rather than a Codec directly.
type Codec interface {
	Decode(raw []byte) (model.TradeEvent, error)
	Encode(model.TradeEvent) ([]byte, error)
}

// wireTradeEvent is the JSON-over-the-wire shape.
type wireTradeEvent struct {
	TradeID        string  `json:"tradeId"`
	PortfolioID    string  `json:"portfolioId"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	PricePerStock  float64 `json:"pricePerStock"`
	Quantity       int64   `json:"quantity"`
	EventTimestamp string  `json:"eventTimestamp"`
}

// JSONCodec is the default Codec: a flat JSON envelope, RFC3339 timestamps.
// A schema-registry-aware codec (Avro/Protobuf) can be substituted behind
// the same interface.
type JSONCodec struct{}

func (JSONCodec) Decode(raw []byte) (model.TradeEvent, error) {
	var w wireTradeEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.TradeEvent{}, fmt.Errorf("stream: decode payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.EventTimestamp)
	if err != nil {
		return model.TradeEvent{}, fmt.Errorf("stream: parse eventTimestamp: %w", err)
	}
	return model.TradeEvent{
		TradeID:        w.TradeID,
		PortfolioID:    w.PortfolioID,
		Symbol:         w.Symbol,
		Side:           model.Side(w.Side),
		PricePerStock:  w.PricePerStock,
		Quantity:       w.Quantity,
		EventTimestamp: ts,
	}, nil
}

func (JSONCodec) Encode(ev model.TradeEvent) ([]byte, error) {
	w := wireTradeEvent{
		TradeID:        ev.TradeID,
		PortfolioID:    ev.PortfolioID,
		Symbol:         ev.Symbol,
		Side:           string(ev.Side),
		PricePerStock:  ev.PricePerStock,
		Quantity:       ev.Quantity,
		EventTimestamp: ev.EventTimestamp.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(w)
}

// Classifier is a pure function: bytes in, a decoded TradeEvent or an
// InvalidReason out. No retries, no side effects.
type Classifier struct {
	codec Codec
}

// NewClassifier constructs a Classifier around codec. A nil codec defaults
// to JSONCodec{}.
func NewClassifier(codec Codec) *Classifier {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Classifier{codec: codec}
}

// Classify decodes raw into a PendingMessage. The returned message always
// has either Event or Invalid set, never both, never neither.
func (c *Classifier) Classify(raw []byte, offset int64, ack model.AckHandle) model.PendingMessage {
	ev, err := c.codec.Decode(raw)
	if err != nil {
		return invalidMessage(raw, offset, ack, err.Error())
	}
	if err := ev.Validate(); err != nil {
		return invalidMessage(raw, offset, ack, err.Error())
	}
	ev2 := ev
	return model.PendingMessage{
		Raw:       raw,
		Offset:    offset,
		AckHandle: ack,
		Event:     &ev2,
	}
}

func invalidMessage(raw []byte, offset int64, ack model.AckHandle, reason string) model.PendingMessage {
	return model.PendingMessage{
		Raw:       raw,
		Offset:    offset,
		AckHandle: ack,
		Invalid:   &model.InvalidReason{Reason: reason},
	}
}
