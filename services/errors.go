package services

import (
	"errors"
	"fmt"
	"strings"
)

// Shared error taxonomy surfaced to handlers and callers.
var (
	// Not found
	ErrMatchNotFound  = errors.New("match not found")
	ErrStageNotFound  = errors.New("stage not found")
	ErrResultNotFound = errors.New("match result not found")

	// Validation (client-caused, non-retryable without corrected input)
	ErrParticipantMismatch = errors.New("submitted participants do not match the match's expected set")
	ErrInvalidPlacement    = errors.New("invalid placement")
	ErrTokenRequired       = errors.New("idempotency token is required")

	// Conflicts
	// ErrMatchAlreadyResolved: a result exists under a different idempotency
	// token; resubmitting different data is rejected, never overwritten.
	ErrMatchAlreadyResolved = errors.New("match already has a recorded result")
	// ErrParticipantsUndetermined: the match is a bracket slot whose upstream
	// group has not resolved yet, so no result can be recorded for it.
	ErrParticipantsUndetermined = errors.New("match participants are not determined yet")

	// Transient server-side contention, retryable with backoff.
	ErrLedgerConflict = errors.New("ranking ledger contention, retry later")

	// Programming-invariant violation: resolution invoked for an incomplete
	// stage. Logged as a defect, transaction aborted.
	ErrIncompleteUpstreamData = errors.New("stage is not complete, cannot resolve bracket")
)

// ResultValidationError carries structured detail about a rejected submission:
// which rule was violated and which participants triggered it. It unwraps to
// the matching sentinel so errors.Is keeps working.
type ResultValidationError struct {
	Rule    error // ErrParticipantMismatch or ErrInvalidPlacement
	Detail  string
	Missing []int
	Extra   []int
}

func (e *ResultValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Rule.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing participants: %v)", e.Missing)
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, " (unexpected participants: %v)", e.Extra)
	}
	return b.String()
}

func (e *ResultValidationError) Unwrap() error {
	return e.Rule
}
