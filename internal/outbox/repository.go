// Package outbox implements the three operations DispatchWorker drives
// (a single-statement fetch, a single-statement bulk update, and an
// insert-then-delete quarantine), built on a transaction-scoped Postgres advisory
// lock rather than `FOR UPDATE SKIP LOCKED`: SKIP LOCKED doesn't give
// exclusive per-portfolio ownership across a whole dispatcher
// transaction, only per-row visibility, so it can still let two
// dispatchers interleave writes for the same portfolio.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tradecapture/ingress/internal/model"
)

const fetchPendingBatchSQL = `
SELECT id, created_at, portfolio_id, trade_id, payload
FROM outbox o
WHERE status = 'PENDING'
  AND pg_try_advisory_xact_lock(hashtext(o.portfolio_id)::bigint)
ORDER BY created_at ASC, id ASC
LIMIT $1`

const quarantineInsertSQL = `
INSERT INTO quarantine (failed_at, raw_message, error_detail)
VALUES (now(), $1, $2)`

const quarantineDeleteSQL = `DELETE FROM outbox WHERE id = $1`

// Repository is the outbox store. All three methods must be called
// within a transaction the caller (DispatchWorker) owns: the advisory
// lock is transaction-scoped, auto-released on that transaction's commit
// or rollback, and FetchPendingBatch's exclusivity guarantee depends on
// it.
type Repository struct{}

// NewRepository constructs a Repository. It is stateless; every method
// takes the live *sql.Tx explicitly.
func NewRepository() *Repository {
	return &Repository{}
}

// FetchPendingBatch returns up to limit PENDING entries ordered by
// (created_at, id), filtered to only the rows whose portfolio advisory
// lock this transaction could acquire. A portfolio already locked by
// another concurrent dispatcher transaction is simply invisible in the
// result, so one portfolio's entries can never leapfrog past entries
// another dispatcher is mid-publish on.
func (r *Repository) FetchPendingBatch(ctx context.Context, tx *sql.Tx, limit int) ([]model.OutboxEntry, error) {
	rows, err := tx.QueryContext(ctx, fetchPendingBatchSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch pending batch: %w", err)
	}
	defer rows.Close()

	var out []model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.PortfolioID, &e.TradeID, &e.Payload); err != nil {
			return nil, fmt.Errorf("outbox: scan pending row: %w", err)
		}
		e.Status = model.OutboxPending
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkBatchAsSent issues a single bulk UPDATE ... WHERE id IN (...) for
// ids.
func (r *Repository) MarkBatchAsSent(ctx context.Context, tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("UPDATE outbox SET status='SENT', sent_at=now() WHERE id IN (")
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "$%d", i+1)
		args[i] = id
	}
	sb.WriteByte(')')
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("outbox: mark batch sent: %w", err)
	}
	return nil
}

// Quarantine inserts a QuarantineEntry for entry then deletes its
// OutboxEntry row, both within the caller's transaction.
func (r *Repository) Quarantine(ctx context.Context, tx *sql.Tx, entry model.OutboxEntry, reason string) error {
	detail := model.TruncateErrorDetail(reason)
	if _, err := tx.ExecContext(ctx, quarantineInsertSQL, entry.Payload, detail); err != nil {
		return fmt.Errorf("outbox: insert quarantine entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, quarantineDeleteSQL, entry.ID); err != nil {
		return fmt.Errorf("outbox: delete quarantined outbox row: %w", err)
	}
	return nil
}
