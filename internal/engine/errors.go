package engine

import (
	"errors"
	"fmt"
)

// ErrCycleAborted is returned when a cycle ran past its wall-clock budget.
// The phases that did run are committed and a partial snapshot is logged.
var ErrCycleAborted = errors.New("engine: cycle aborted after exceeding its budget")

// Invariants a ConsistencyError can name.
const (
	InvariantConservation = "money_conservation"
	InvariantPrice        = "price_positive"
	InvariantPriceIndex   = "price_index"
	InvariantSolvency     = "bank_solvency"
	InvariantPosting      = "committed_posting"
)

// ConsistencyError is fatal for the run: an invariant no longer holds.
// LastGood is the most recent complete snapshot, nil before the first.
type ConsistencyError struct {
	Cycle     uint64
	Phase     string
	Invariant string
	Detail    string
	LastGood  *Snapshot
	Err       error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("engine: cycle %d %s phase: %s violated: %s", e.Cycle, e.Phase, e.Invariant, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// ValidationError is a rejected item: a sale, a transfer, an order. The
// cycle continues without it.
type ValidationError struct {
	Cycle   uint64
	Subject string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cycle %d: %s rejected: %v", e.Cycle, e.Subject, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
