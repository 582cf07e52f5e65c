// Package dispatch implements the dispatch core: failure classification,
// prefix-safe batch publication, and the long-running DispatchWorker loop.
package dispatch

import (
	"context"
	"errors"

	"github.com/tradecapture/ingress/internal/kafkaio"
)

// Classification is the failure taxonomy: poison pill or system failure,
// plus ClassUnknown, which Classify returns only for a nil error.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassPoisonPill
	ClassSystemFailure
)

func (c Classification) String() string {
	switch c {
	case ClassPoisonPill:
		return "PoisonPill"
	case ClassSystemFailure:
		return "SystemFailure"
	default:
		return "Unknown"
	}
}

// ErrDecodeFailure marks a failure to decode a stored outbox payload back
// into a publishable record. Always a PoisonPill: no retry fixes a
// payload that was already malformed when it was written.
var ErrDecodeFailure = errors.New("dispatch: decode failure")

// Classify is a stateless function from a root cause to a Classification.
// The policy: anything a retry might fix is SystemFailure; anything a
// retry cannot fix is PoisonPill. Unrecognized causes default to
// SystemFailure, because a false retry is cheap while a false quarantine
// is data loss.
func Classify(err error) (Classification, string) {
	if err == nil {
		return ClassUnknown, ""
	}

	switch {
	case errors.Is(err, ErrDecodeFailure),
		errors.Is(err, kafkaio.ErrSerialization),
		errors.Is(err, kafkaio.ErrPayloadTooLarge),
		errors.Is(err, kafkaio.ErrInvalidArgument):
		return ClassPoisonPill, err.Error()

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, kafkaio.ErrPublishTimeout),
		errors.Is(err, kafkaio.ErrNetwork),
		errors.Is(err, kafkaio.ErrBrokerUnavailable):
		return ClassSystemFailure, err.Error()

	default:
		return ClassSystemFailure, err.Error()
	}
}
