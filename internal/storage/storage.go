// Package storage implements the durable store side of the persistence
// core and outbox repository against PostgreSQL, accessed through
// jackc/pgx/v5's database/sql driver so every write path shares the same
// *sql.Tx-based runInTransaction helper.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/persistence"
)

// Open opens a pgx-backed *sql.DB against dsn.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(32)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// runInTransaction owns begin/commit/rollback and invokes fn with the
// live *sql.Tx.
func runInTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classifyErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyErr(err)
	}
	committed = true
	return nil
}

// classifyErr maps a raw driver error to *persistence.DataError or
// *persistence.SystemError.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", // unique_violation
			"23502", // not_null_violation
			"23503", // foreign_key_violation
			"23514", // check_violation
			"22001": // string_data_right_truncation
			return &persistence.DataError{Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &persistence.SystemError{Err: err}
	}
	return &persistence.SystemError{Err: err}
}

const (
	insertAuditValidSQL = `
INSERT INTO audit (received_at, portfolio_id, trade_id, raw_payload, symbol, side, price, quantity, event_time, valid)
VALUES (now(), $1, $2, $3, $4, $5, $6, $7, $8, true)
ON CONFLICT (trade_id) WHERE valid DO NOTHING
RETURNING id`

	insertAuditInvalidSQL = `
INSERT INTO audit (received_at, portfolio_id, trade_id, raw_payload, valid)
VALUES (now(), $1, $2, $3, false)
RETURNING id`

	insertOutboxSQL = `
INSERT INTO outbox (created_at, portfolio_id, trade_id, payload, status)
VALUES (now(), $1, $2, $3, 'PENDING')`

	insertQuarantineSQL = `
INSERT INTO quarantine (failed_at, raw_message, error_detail)
VALUES (now(), $1, $2)`

	deleteOutboxSQL = `DELETE FROM outbox WHERE trade_id = $1`
)

// PostgresStore implements persistence.Store.
type PostgresStore struct {
	db    *sql.DB
	codec Encoder
}

// Encoder serializes a valid TradeEvent into the bytes stored in the
// outbox payload column (and later published downstream).
type Encoder interface {
	Encode(model.TradeEvent) ([]byte, error)
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sql.DB, codec Encoder) *PostgresStore {
	return &PostgresStore{db: db, codec: codec}
}

// PersistBatch implements persistence.Store: one transaction for the
// entire batch, followed by the offset commit for the batch's last
// message that carries an ack handle (admin-replay messages have none and
// are passed over), which deliberately happens outside the transaction:
// the source-stream offset must never be acknowledged before the write it
// covers is durable.
func (s *PostgresStore) PersistBatch(ctx context.Context, batch []model.PendingMessage, storeOffset func(ctx context.Context, msg model.PendingMessage) error) error {
	if len(batch) == 0 {
		return nil
	}
	err := runInTransaction(ctx, s.db, func(tx *sql.Tx) error {
		for _, msg := range batch {
			if err := s.insertOne(ctx, tx, msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if storeOffset != nil {
		for i := len(batch) - 1; i >= 0; i-- {
			if batch[i].AckHandle != nil {
				return storeOffset(ctx, batch[i])
			}
		}
	}
	return nil
}

// PersistSingle implements persistence.Store's level-2 path: one message,
// its own transaction.
func (s *PostgresStore) PersistSingle(ctx context.Context, msg model.PendingMessage) error {
	return runInTransaction(ctx, s.db, func(tx *sql.Tx) error {
		return s.insertOne(ctx, tx, msg)
	})
}

func (s *PostgresStore) insertOne(ctx context.Context, tx *sql.Tx, msg model.PendingMessage) error {
	if msg.Valid() {
		ev := *msg.Event
		payload, err := s.codec.Encode(ev)
		if err != nil {
			return &persistence.DataError{Err: fmt.Errorf("encode trade event: %w", err)}
		}

		var id int64
		row := tx.QueryRowContext(ctx, insertAuditValidSQL,
			ev.PortfolioID, ev.TradeID, msg.Raw, ev.Symbol, string(ev.Side), ev.PricePerStock, ev.Quantity, ev.EventTimestamp)
		switch scanErr := row.Scan(&id); {
		case errors.Is(scanErr, sql.ErrNoRows):
			// Idempotent duplicate: audit row already existed for this
			// tradeId, so no new OutboxEntry is emitted either.
			return nil
		case scanErr != nil:
			return classifyErr(scanErr)
		}

		if _, err := tx.ExecContext(ctx, insertOutboxSQL, ev.PortfolioID, ev.TradeID, payload); err != nil {
			return classifyErr(err)
		}
		return nil
	}

	tradeID := model.InvalidSentinel
	portfolioID := model.InvalidSentinel
	if _, err := tx.ExecContext(ctx, insertAuditInvalidSQL, portfolioID, tradeID, msg.Raw); err != nil {
		return classifyErr(err)
	}
	detail := model.TruncateErrorDetail(msg.Invalid.Error())
	if _, err := tx.ExecContext(ctx, insertQuarantineSQL, msg.Raw, detail); err != nil {
		return classifyErr(err)
	}
	return nil
}

// QuarantineOnly implements persistence.Store's level-3 path: an
// independent transaction that commits even if the surrounding work
// rolled back.
func (s *PostgresStore) QuarantineOnly(ctx context.Context, msg model.PendingMessage, reason string) error {
	return runInTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertQuarantineSQL, msg.Raw, model.TruncateErrorDetail(reason)); err != nil {
			return classifyErr(err)
		}
		if msg.Valid() {
			if _, err := tx.ExecContext(ctx, deleteOutboxSQL, msg.Event.TradeID); err != nil {
				return classifyErr(err)
			}
		}
		return nil
	})
}
