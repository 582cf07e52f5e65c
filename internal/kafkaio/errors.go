// Package kafkaio provides the narrow, concrete adapters over
// github.com/twmb/franz-go that realize the source-stream and
// downstream-bus interfaces. The broker is an external collaborator; this
// package is the thin seam between its client library and the rest of
// the pipeline.
package kafkaio

import "errors"

// These sentinels are what FailureClassifier (internal/dispatch) switches
// on. classifyProduceError in sink.go is responsible for mapping franz-go's own
// error types onto them.
var (
	ErrSerialization    = errors.New("kafkaio: serialization failure")
	ErrPayloadTooLarge  = errors.New("kafkaio: payload too large for destination")
	ErrInvalidArgument  = errors.New("kafkaio: invalid argument / null invariant violation")
	ErrPublishTimeout   = errors.New("kafkaio: publish timeout")
	ErrNetwork          = errors.New("kafkaio: network/connectivity error")
	ErrBrokerUnavailable = errors.New("kafkaio: broker unavailable or leader election in progress")
)
