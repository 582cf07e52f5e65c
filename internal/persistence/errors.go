package persistence

import "errors"

// DataError marks a failure that is a property of the data itself (a
// unique-constraint violation, a malformed row) rather than of the
// storage system. DataErrors are routed to quarantine and never retried,
// and must never be allowed to open the circuit breaker.
type DataError struct {
	Err error
}

func (e *DataError) Error() string { return "persistence: data error: " + e.Err.Error() }
func (e *DataError) Unwrap() error { return e.Err }

// SystemError marks a transient failure of the storage system itself
// (connection loss, timeout). SystemErrors count toward opening the
// circuit breaker and are retried by the caller.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string { return "persistence: system error: " + e.Err.Error() }
func (e *SystemError) Unwrap() error { return e.Err }

// ErrCallNotPermitted is surfaced when the circuit breaker is open. The
// IngestionBuffer's flush path interprets this as: pause the stream, sleep
// a backoff, retry the same batch.
var ErrCallNotPermitted = errors.New("persistence: call not permitted (circuit open)")

// IsDataError reports whether err (or something it wraps) is a DataError.
func IsDataError(err error) bool {
	var d *DataError
	return errors.As(err, &d)
}

// IsSystemError reports whether err (or something it wraps) is a
// SystemError.
func IsSystemError(err error) bool {
	var s *SystemError
	return errors.As(err, &s)
}
