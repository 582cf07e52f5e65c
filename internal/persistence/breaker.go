package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig holds the circuit breaker's tunables.
type BreakerConfig struct {
	FailureRate    float64
	OpenDuration   time.Duration
	HalfOpenTrials uint32
	RollingWindow  uint32
}

// CircuitBreaker wraps sony/gobreaker so that only SystemErrors ever count
// toward opening the breaker; data-level errors never do. On open, Execute
// returns ErrCallNotPermitted.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreaker builds a breaker from cfg, guarding calls named name
// (used in the underlying library's state-change callback for logging).
func NewCircuitBreaker(name string, cfg BreakerConfig, onStateChange func(from, to gobreaker.State)) *CircuitBreaker {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenTrials,
		Interval:    0, // closed-state counts are never cleared: they are cumulative since the last state change, not a rolling window
		Timeout:     cfg.OpenDuration,
		// RollingWindow is the minimum request count before the cumulative
		// failure ratio is compared against FailureRate.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.RollingWindow {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRate
		},
		// A DataError reached the store and got a definitive, non-retryable
		// answer, which counts as a successful call as far as the breaker
		// is concerned. Only SystemErrors (and anything unclassified)
		// count as breaker failures.
		IsSuccessful: func(err error) bool {
			return err == nil || IsDataError(err)
		},
	}
	if onStateChange != nil {
		st.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
			onStateChange(from, to)
		}
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker[any](st)}
}

// Execute runs fn through the breaker. Only a *SystemError return from fn
// is counted as a breaker failure; a *DataError is treated as a breaker
// success (the call itself succeeded in reaching the store and getting a
// definitive, non-retryable answer) but is still returned to the caller.
func (c *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCallNotPermitted
		}
		return err
	}
	return nil
}

// State reports the current breaker state, for telemetry.
func (c *CircuitBreaker) State() gobreaker.State {
	return c.cb.State()
}
