package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradecapture/ingress/internal/buffer"
	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/telemetry"
)

// Repository is the narrow slice of internal/outbox.Repository a
// DispatchWorker depends on.
type Repository interface {
	FetchPendingBatch(ctx context.Context, tx *sql.Tx, limit int) ([]model.OutboxEntry, error)
	MarkBatchAsSent(ctx context.Context, tx *sql.Tx, ids []int64) error
	Quarantine(ctx context.Context, tx *sql.Tx, entry model.OutboxEntry, reason string) error
}

// WorkerConfig holds the tunables that drive the DispatchWorker's backoff
// and batch-size policy.
type WorkerConfig struct {
	B0           time.Duration // SystemFailureBackoff: floor and step multiplier base
	Bmax         time.Duration // MaxBackoff
	IdleInterval time.Duration
}

// State is the position of a DispatchWorker in its state machine:
// Idle → Fetching → Dispatching → Committing → Idle, with BackingOff →
// Idle on the backoff branch, and a terminal Stopped.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateDispatching
	StateCommitting
	StateBackingOff
	StateStopped
)

// DispatchWorker is the long-running per-process dispatch loop: one
// transaction per iteration, lock-filtered fetch, group-by-portfolio
// publish, bulk commit. Horizontal correctness across pods comes entirely
// from the transaction-scoped advisory lock Repository.FetchPendingBatch
// takes, not from any coordination here.
type DispatchWorker struct {
	db       *sql.DB
	repo     Repository
	engine   *PublicationEngine
	sizer    *buffer.AdaptiveBatchSizer
	cfg      WorkerConfig
	log      zerolog.Logger
	recorder *telemetry.Recorder

	currentBackoff time.Duration
	state          State
}

// NewDispatchWorker wires a DispatchWorker's dependencies. sizer is this
// worker's own AdaptiveBatchSizer instance (distinct from the ingestion
// buffer's), driven by observed per-iteration flush duration.
func NewDispatchWorker(db *sql.DB, repo Repository, engine *PublicationEngine, sizer *buffer.AdaptiveBatchSizer, cfg WorkerConfig, log zerolog.Logger, recorder *telemetry.Recorder) *DispatchWorker {
	return &DispatchWorker{
		db:       db,
		repo:     repo,
		engine:   engine,
		sizer:    sizer,
		cfg:      cfg,
		log:      log.With().Str("component", "dispatch_worker").Logger(),
		state:    StateIdle,
		recorder: recorder,
	}
}

// State reports the worker's current position in the state machine.
func (w *DispatchWorker) State() State {
	return w.state
}

// Run drives the loop until ctx is canceled, at which point state becomes
// Stopped and Run returns ctx.Err().
func (w *DispatchWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			w.state = StateStopped
			return ctx.Err()
		}

		if w.currentBackoff > 0 {
			w.state = StateBackingOff
			select {
			case <-ctx.Done():
				w.state = StateStopped
				return ctx.Err()
			case <-time.After(w.currentBackoff):
			}
			w.state = StateIdle
			continue
		}

		if err := w.iterate(ctx); err != nil {
			w.log.Error().Err(err).Msg("dispatch iteration failed")
		}
	}
}

// iterate runs exactly one iteration: one transaction, one fetch, one
// pass over the resulting portfolio groups, one commit.
func (w *DispatchWorker) iterate(ctx context.Context) error {
	w.state = StateFetching
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dispatch: begin transaction: %w", err)
	}

	start := time.Now()
	batchSize := w.sizer.Current()
	entries, err := w.repo.FetchPendingBatch(ctx, tx, batchSize)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("dispatch: fetch pending batch: %w", err)
	}

	if len(entries) == 0 {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dispatch: commit empty iteration: %w", err)
		}
		w.sizer.Reset()
		w.state = StateIdle
		select {
		case <-ctx.Done():
		case <-time.After(w.cfg.IdleInterval):
		}
		return nil
	}

	w.state = StateDispatching
	groups, order := groupByPortfolio(entries)

	systemFailure := false
	sentCount := 0
	quarantinedCount := 0
	for _, portfolioID := range order {
		group := groups[portfolioID]
		result := w.engine.ProcessBatch(ctx, group)

		if err := w.repo.MarkBatchAsSent(ctx, tx, result.SuccessfulIDs()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("dispatch: mark batch sent: %w", err)
		}
		sentCount += len(result.SuccessfulIDs())

		switch r := result.(type) {
		case SystemFailureResult:
			systemFailure = true
		case PoisonPillResult:
			entry, ok := lookupByID(group, r.FailedID)
			if !ok {
				_ = tx.Rollback()
				return fmt.Errorf("dispatch: poison pill id %d not found in its own group", r.FailedID)
			}
			if err := w.repo.Quarantine(ctx, tx, entry, r.Reason); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("dispatch: quarantine entry %d: %w", r.FailedID, err)
			}
			quarantinedCount++
		case Success:
			// nothing further.
		}

		if systemFailure {
			break
		}
	}

	w.state = StateCommitting
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dispatch: commit iteration: %w", err)
	}

	if w.recorder != nil && sentCount > 0 {
		w.recorder.OutboxEntriesSent.Add(float64(sentCount))
	}
	if w.recorder != nil && quarantinedCount > 0 {
		w.recorder.TradesQuarantined.Add(float64(quarantinedCount))
	}

	if systemFailure {
		w.currentBackoff = nextBackoff(w.currentBackoff, w.cfg.B0, w.cfg.Bmax)
		if w.recorder != nil {
			w.recorder.DispatcherBackoff.Observe(w.currentBackoff.Seconds())
		}
		w.state = StateIdle
		return nil
	}

	w.currentBackoff = 0
	w.sizer.Observe(time.Since(start), len(entries))
	w.state = StateIdle
	return nil
}

// nextBackoff implements currentBackoff ← min(max(currentBackoff*2, B0), Bmax).
func nextBackoff(current, b0, bmax time.Duration) time.Duration {
	next := current * 2
	if next < b0 {
		next = b0
	}
	if next > bmax {
		next = bmax
	}
	return next
}

// groupByPortfolio groups entries by PortfolioID, preserving the
// (createdAt, id) order FetchPendingBatch already returned them in, both
// within each group and across the distinct portfolios' first appearance.
func groupByPortfolio(entries []model.OutboxEntry) (map[string][]model.OutboxEntry, []string) {
	groups := make(map[string][]model.OutboxEntry)
	var order []string
	for _, e := range entries {
		if _, seen := groups[e.PortfolioID]; !seen {
			order = append(order, e.PortfolioID)
		}
		groups[e.PortfolioID] = append(groups[e.PortfolioID], e)
	}
	return groups, order
}

func lookupByID(group []model.OutboxEntry, id int64) (model.OutboxEntry, bool) {
	for _, e := range group {
		if e.ID == id {
			return e, true
		}
	}
	return model.OutboxEntry{}, false
}
