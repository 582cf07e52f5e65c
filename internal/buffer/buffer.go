// Package buffer implements the ingestion buffer and its adaptive batch
// sizer: a bounded, single-producer/single-consumer queue of
// model.PendingMessage, flushed on a size-or-timer trigger by one
// dedicated goroutine, so that per-portfolio source order is preserved
// into the outbox.
//
// The run loop is a single flusher goroutine draining a bounded buffered
// channel, flushing on one fixed-cadence ticker or when the pending batch
// reaches the target size supplied by AdaptiveBatchSizer (capped at
// MaxBatch), plus bounded-wait-then-pause backpressure and shutdown-time
// quarantine routing on top.
package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/persistence"
)

// FlushFunc persists and acknowledges one ordered batch. It must not
// reorder entries; PersistenceCore implements it.
type FlushFunc func(ctx context.Context, batch []model.PendingMessage) error

// QuarantineFunc routes a single message directly to quarantine, bypassing
// normal batch persistence. Used for the shutdown-time buffer-full path.
type QuarantineFunc func(ctx context.Context, msg model.PendingMessage, reason string)

// Config configures a Buffer.
type Config struct {
	// Capacity is the bounded queue size C.
	Capacity int
	// EnqueueWait is the bounded wait Tw before Enqueue treats the queue
	// as full.
	EnqueueWait time.Duration
	// FlushInterval is the forced flush cadence Tflush.
	FlushInterval time.Duration
	// MaxBatch is the hard per-flush cap Bmax.
	MaxBatch int
	// RetryBackoffMin and RetryBackoffMax bound the pause-and-retry delay
	// applied when a flush returns persistence.ErrCallNotPermitted or a
	// system error: the same doubling/floor/cap policy DispatchWorker
	// applies to its own backoff, started fresh each time a flush retry
	// sequence begins.
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
}

// Buffer is the bounded ingestion queue described above.
type Buffer struct {
	cfg   Config
	sizer *AdaptiveBatchSizer

	flush      FlushFunc
	quarantine QuarantineFunc
	pause      func()
	resume     func()

	ctx    context.Context
	cancel context.CancelFunc

	jobCh chan model.PendingMessage
	stop  chan struct{}
	done  chan struct{}

	stopOnce sync.Once

	mu           sync.Mutex
	shuttingDown bool
}

// New constructs a Buffer. pause/resume may be nil if the caller has no
// backpressure hint to give the stream adapter.
func New(cfg Config, sizer *AdaptiveBatchSizer, flush FlushFunc, quarantine QuarantineFunc, pause, resume func()) *Buffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = cfg.Capacity
	}
	if cfg.RetryBackoffMin <= 0 {
		cfg.RetryBackoffMin = 50 * time.Millisecond
	}
	if cfg.RetryBackoffMax < cfg.RetryBackoffMin {
		cfg.RetryBackoffMax = cfg.RetryBackoffMin
	}
	b := &Buffer{
		cfg:        cfg,
		sizer:      sizer,
		flush:      flush,
		quarantine: quarantine,
		pause:      pause,
		resume:     resume,
		jobCh:      make(chan model.PendingMessage, cfg.Capacity),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	go b.run()
	return b
}

// Enqueue is non-blocking with a bounded wait: on a full queue it either
// quarantines the message (if shutdown is in progress) or blocks the
// caller, which is this component's backpressure signal, until room is
// available, having first invoked the pause hint.
func (b *Buffer) Enqueue(ctx context.Context, msg model.PendingMessage) error {
	select {
	case b.jobCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return b.ctx.Err()
	case <-time.After(b.cfg.EnqueueWait):
	}

	if b.isShuttingDown() {
		b.quarantine(ctx, msg, "buffer-full shutdown")
		return nil
	}

	if b.pause != nil {
		b.pause()
	}
	if b.resume != nil {
		defer b.resume()
	}

	select {
	case b.jobCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return b.ctx.Err()
	}
}

func (b *Buffer) isShuttingDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shuttingDown
}

// Shutdown begins graceful shutdown: new Enqueue calls that would block on
// a full queue are quarantined instead, and any already-queued messages are
// flushed normally before the buffer stops.
func (b *Buffer) Shutdown(ctx context.Context) {
	b.mu.Lock()
	b.shuttingDown = true
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stop) })

	select {
	case <-b.done:
	case <-ctx.Done():
	}
}

// Close cancels the buffer immediately, abandoning any partial batch.
func (b *Buffer) Close() {
	b.cancel()
	<-b.done
}

func (b *Buffer) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []model.PendingMessage
	idleSinceLastFlush := true

	doFlush := func() {
		if len(batch) == 0 {
			return
		}
		n := len(batch)
		if n > b.cfg.MaxBatch {
			n = b.cfg.MaxBatch
		}
		toFlush := batch[:n]
		rest := append([]model.PendingMessage(nil), batch[n:]...)

		start := time.Now()
		paused := false
		backoff := time.Duration(0)

		for {
			err := b.flush(b.ctx, toFlush)
			if err == nil || !isRetryableFlushError(err) {
				break
			}

			// Breaker-open or a transient system failure: pause the stream
			// and keep retrying this same batch, same as DispatchWorker
			// retries a PENDING outbox row after backoff.
			if !paused {
				paused = true
				if b.pause != nil {
					b.pause()
				}
			}
			backoff = nextRetryBackoff(backoff, b.cfg.RetryBackoffMin, b.cfg.RetryBackoffMax)
			select {
			case <-time.After(backoff):
			case <-b.ctx.Done():
				batch = append(append([]model.PendingMessage(nil), toFlush...), rest...)
				return
			}
		}

		if paused && b.resume != nil {
			b.resume()
		}

		batch = rest
		b.sizer.Observe(time.Since(start), n)
		idleSinceLastFlush = len(batch) == 0
	}

	drainRemaining := func() {
		for {
			select {
			case msg := <-b.jobCh:
				batch = append(batch, msg)
			default:
				// doFlush sends at most MaxBatch per call; keep going until
				// everything queued is flushed or the buffer is canceled.
				for len(batch) > 0 && b.ctx.Err() == nil {
					doFlush()
				}
				return
			}
		}
	}

	for {
		select {
		case <-b.ctx.Done():
			return

		case <-b.stop:
			drainRemaining()
			return

		case msg := <-b.jobCh:
			batch = append(batch, msg)
			if len(batch) >= b.sizer.Current() || len(batch) >= b.cfg.MaxBatch {
				doFlush()
			}

		case <-ticker.C:
			if idleSinceLastFlush && len(batch) == 0 {
				b.sizer.Reset()
			}
			doFlush()
		}
	}
}

// isRetryableFlushError reports whether err means the store is degraded
// rather than the data being bad: a breaker-open ErrCallNotPermitted or any
// *persistence.SystemError. Both leave the batch unconsumed and must be
// retried, never dropped.
func isRetryableFlushError(err error) bool {
	return errors.Is(err, persistence.ErrCallNotPermitted) || persistence.IsSystemError(err)
}

// nextRetryBackoff implements the same doubling/floor/cap policy
// DispatchWorker uses for its own backoff: current ← min(max(current*2, b0), bmax).
func nextRetryBackoff(current, b0, bmax time.Duration) time.Duration {
	next := current * 2
	if next < b0 {
		next = b0
	}
	if next > bmax {
		next = bmax
	}
	return next
}
