package dispatch

// Result is PublicationEngine.ProcessBatch's outcome: Success, a
// PoisonPillResult, or a SystemFailureResult, realized as a small closed
// interface plus a type switch at the one consumer (DispatchWorker) that
// needs to branch on it. No exceptional control flow crosses the
// PublicationEngine/DispatchWorker boundary.
type Result interface {
	// SuccessfulIDs is always a contiguous prefix of the input entries,
	// ending at the first failure (or the whole input, on full success).
	SuccessfulIDs() []int64
}

// Success means every entry in the batch published.
type Success struct {
	IDs []int64
}

func (s Success) SuccessfulIDs() []int64 { return s.IDs }

// PoisonPillResult means entries up to (not including) FailedID published;
// FailedID is permanently unpublishable and must be quarantined.
type PoisonPillResult struct {
	Successful []int64
	FailedID   int64
	Reason     string
}

func (p PoisonPillResult) SuccessfulIDs() []int64 { return p.Successful }

// SystemFailureResult means entries up to Successful published; the
// entry that failed, and everything after it, remain PENDING for retry
// after backoff.
type SystemFailureResult struct {
	Successful []int64
}

func (f SystemFailureResult) SuccessfulIDs() []int64 { return f.Successful }
