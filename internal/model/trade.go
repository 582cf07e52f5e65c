// Package model holds the domain types shared across the ingestion and
// dispatch cores. Types here carry no behavior beyond small invariant
// checks; the components that act on them live in their own packages.
package model

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Validate reports whether s is one of the two recognized sides.
func (s Side) Validate() error {
	switch s {
	case SideBuy, SideSell:
		return nil
	default:
		return fmt.Errorf("model: invalid side %q", string(s))
	}
}

// TradeEvent is the decoded payload of a single trade, as received from the
// source stream. TradeID is the globally unique aggregate-leaf identity;
// PortfolioID is the ordering key on the downstream bus.
type TradeEvent struct {
	TradeID        string
	PortfolioID    string
	Symbol         string
	Side           Side
	PricePerStock  float64
	Quantity       int64
	EventTimestamp time.Time
}

// Validate checks the invariants a decoded trade must hold: non-empty
// identity fields, a recognized side, and a non-negative quantity.
func (t TradeEvent) Validate() error {
	if t.TradeID == "" {
		return errors.New("model: tradeId is empty")
	}
	if t.PortfolioID == "" {
		return errors.New("model: portfolioId is empty")
	}
	if err := t.Side.Validate(); err != nil {
		return err
	}
	if t.Quantity < 0 {
		return fmt.Errorf("model: quantity %d is negative", t.Quantity)
	}
	return nil
}

// InvalidSentinel is substituted for TradeID/PortfolioID on AuditRecords
// produced from undecodable or invariant-violating messages.
const InvalidSentinel = "-"

// InvalidReason describes why a raw message failed classification.
type InvalidReason struct {
	Reason string
}

func (r *InvalidReason) Error() string {
	return r.Reason
}

// AckHandle is the opaque source-stream offset handle a PendingMessage
// carries so the buffer can later call StreamAdapter.StoreOffset. A nil
// AckHandle (used by the admin replay endpoint) means there is no
// corresponding source-stream offset to commit.
type AckHandle any

// PendingMessage pairs a decoded TradeEvent (or an InvalidReason) with the
// raw bytes it was decoded from, its source-stream offset, and an opaque
// ack-handle. Immutable after construction.
type PendingMessage struct {
	Raw       []byte
	Offset    int64
	AckHandle AckHandle

	Event   *TradeEvent
	Invalid *InvalidReason
}

// Valid reports whether the message decoded to a usable TradeEvent.
func (m PendingMessage) Valid() bool {
	return m.Invalid == nil
}

// ReplayOffsetSentinel is the offset assigned to messages injected via the
// admin replay endpoint; such messages have no source-stream offset to
// acknowledge.
const ReplayOffsetSentinel = int64(-1)

// AuditRecord is the durable, append-style audit trail row written for
// every received message, valid or not.
type AuditRecord struct {
	ID          int64
	ReceivedAt  time.Time
	PortfolioID string
	TradeID     string
	RawPayload  []byte
	Symbol      string
	Side        Side
	Price       float64
	Quantity    int64
	EventTime   time.Time
	Valid       bool
}

// OutboxStatus is the lifecycle state of an OutboxEntry.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
)

// OutboxEntry is a durable row coupling a valid trade to its future
// downstream publication. Exists iff the AuditRecord for the same TradeID
// is valid; created atomically with it.
type OutboxEntry struct {
	ID          int64
	CreatedAt   time.Time
	PortfolioID string
	TradeID     string
	Payload     []byte
	Status      OutboxStatus
	SentAt      *time.Time
}

// QuarantineEntry is an append-only record of a message that could not be
// published or persisted normally.
type QuarantineEntry struct {
	ID          int64
	FailedAt    time.Time
	RawMessage  []byte
	ErrorDetail string
}

// MaxErrorDetailLen bounds QuarantineEntry.ErrorDetail.
const MaxErrorDetailLen = 4096

// TruncateErrorDetail clamps detail to at most MaxErrorDetailLen bytes,
// preserving the front of the message (the part most likely to name the
// failure). The cut point backs up to the nearest rune boundary so it never
// splits a multi-byte rune.
func TruncateErrorDetail(detail string) string {
	if len(detail) <= MaxErrorDetailLen {
		return detail
	}
	cut := MaxErrorDetailLen
	for cut > 0 && !utf8.RuneStart(detail[cut]) {
		cut--
	}
	return detail[:cut]
}
