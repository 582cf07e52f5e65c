// Package persistence implements the atomic batch-to-durable-store write
// path, its four-level progressive fallback, and the circuit breaker that
// protects levels 1 and 2.
package persistence

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradecapture/ingress/internal/model"
)

// Store is the narrow durable-store contract Core depends on.
// internal/storage.PostgresStore is the production implementation; tests
// use an in-memory fake implementing the same interface, testing the
// orchestration logic against injected behavior rather than a real
// database.
type Store interface {
	// PersistBatch writes the whole batch (audit + outbox for valid
	// messages, audit + quarantine for invalid ones) in one transaction,
	// then calls storeOffset for the batch's last message that carries an
	// ack handle. A *DataError
	// must trigger the per-item fallback; a *SystemError propagates to
	// the circuit breaker.
	PersistBatch(ctx context.Context, batch []model.PendingMessage, storeOffset func(ctx context.Context, msg model.PendingMessage) error) error

	// PersistSingle writes one message in its own transaction. Returns a
	// *DataError on integrity violation (caller routes to QuarantineOnly),
	// a *SystemError on connectivity failure (caller rethrows to its own
	// caller), or nil on success.
	PersistSingle(ctx context.Context, msg model.PendingMessage) error

	// QuarantineOnly inserts a QuarantineEntry for msg in an independent
	// transaction (level 3: must commit even if surrounding work rolled
	// back).
	QuarantineOnly(ctx context.Context, msg model.PendingMessage, reason string) error
}

// DiskSink is the level-4 last-resort log: a structured, high-severity
// record of raw bytes that could not be quarantined durably either.
type DiskSink interface {
	Write(ctx context.Context, msg model.PendingMessage, reason string) error
}

// Core is PersistenceCore.
type Core struct {
	store   Store
	breaker *CircuitBreaker
	disk    DiskSink
	log     zerolog.Logger
}

// New constructs a Core.
func New(store Store, breaker *CircuitBreaker, disk DiskSink, log zerolog.Logger) *Core {
	return &Core{store: store, breaker: breaker, disk: disk, log: log}
}

// PersistBatch writes batch atomically, falling back as needed. It never
// returns an error for data-level problems (those are absorbed by the
// fallback ladder); it returns ErrCallNotPermitted
// when the breaker is open and the caller (IngestionBuffer) should pause
// and retry, and returns the underlying error for any other
// unrecoverable system condition.
func (c *Core) PersistBatch(ctx context.Context, batch []model.PendingMessage, storeOffset func(ctx context.Context, msg model.PendingMessage) error) error {
	if len(batch) == 0 {
		return nil
	}

	err := c.breaker.Execute(ctx, func() error {
		return c.store.PersistBatch(ctx, batch, storeOffset)
	})
	switch {
	case err == nil:
		return nil
	case err == ErrCallNotPermitted:
		return err
	case IsDataError(err):
		// Level 1 transaction failed on a data error: fall back to
		// per-item safe persistence (level 2).
		return c.fallbackPerItem(ctx, batch, storeOffset)
	default:
		// SystemError: caller retries the same batch after backoff.
		return err
	}
}

func (c *Core) fallbackPerItem(ctx context.Context, batch []model.PendingMessage, storeOffset func(ctx context.Context, msg model.PendingMessage) error) error {
	for _, msg := range batch {
		if _, err := c.persistSingleSafely(ctx, msg); err != nil {
			// persistSingleSafely only returns system errors (data
			// errors are absorbed into level 3/4 internally); the
			// whole batch's offset commit must wait, so propagate.
			return err
		}
		if storeOffset != nil {
			if err := storeOffset(ctx, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// persistSingleSafely is level 2 of the fallback ladder. dataErrorRouted
// reports whether msg ended up taking the data-error-to-quarantine path
// (level 3/4) rather than landing directly in audit+outbox or
// audit+quarantine; the public PersistSingleSafely method returns false in
// exactly that case, regardless of whether the quarantine write itself
// succeeded. err is non-nil only for a *SystemError/ErrCallNotPermitted,
// which the caller must retry.
func (c *Core) persistSingleSafely(ctx context.Context, msg model.PendingMessage) (dataErrorRouted bool, err error) {
	err = c.breaker.Execute(ctx, func() error {
		return c.store.PersistSingle(ctx, msg)
	})
	switch {
	case err == nil:
		return false, nil
	case err == ErrCallNotPermitted:
		return false, err
	case IsDataError(err):
		return true, c.levelThreeQuarantine(ctx, msg, err.Error())
	default:
		return false, err
	}
}

// levelThreeQuarantine is level 3: an independent transaction so it
// commits even if everything else in the batch rolled back.
func (c *Core) levelThreeQuarantine(ctx context.Context, msg model.PendingMessage, reason string) error {
	if err := c.store.QuarantineOnly(ctx, msg, reason); err != nil {
		return c.levelFourDiskLog(ctx, msg, reason+"; quarantine commit failed: "+err.Error())
	}
	return nil
}

// levelFourDiskLog is level 4: the only place an error is intentionally
// swallowed. It logs a high-severity record with the hex-encoded payload
// and never returns an error to its caller; the message is lost to disk
// as the absolute last resort.
func (c *Core) levelFourDiskLog(ctx context.Context, msg model.PendingMessage, reason string) error {
	if err := c.disk.Write(ctx, msg, reason); err != nil {
		c.log.Error().
			Err(err).
			Str("reason", reason).
			Str("payload_hex", hex.EncodeToString(msg.Raw)).
			Msg("persistence: message lost, disk fallback itself failed")
	} else {
		c.log.Error().
			Str("reason", reason).
			Str("payload_hex", hex.EncodeToString(msg.Raw)).
			Msg("persistence: message routed to disk fallback, lost to durable store")
	}
	return nil
}

// PersistSingleSafely exposes level 2 directly. It returns true only when
// msg landed straight in audit+outbox or audit+quarantine; it returns
// false whenever msg took the data-error path, even if the independent
// quarantine transaction (or the disk fallback beneath it) itself
// succeeded.
func (c *Core) PersistSingleSafely(ctx context.Context, msg model.PendingMessage) bool {
	start := time.Now()
	dataErrorRouted, err := c.persistSingleSafely(ctx, msg)
	took := time.Since(start)
	if err != nil {
		c.log.Warn().Err(err).Dur("took", took).Msg("persistence: persistSingleSafely did not complete cleanly")
		return false
	}
	return !dataErrorRouted
}
