package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/retrace/internal/callid"
)

var (
	// ErrReplayFinished is returned by every replayed call once the trace
	// has been exhausted and the exit function returned.
	ErrReplayFinished = errors.New("replay finished: trace exhausted")

	// ErrNoThread is returned when a recorded or replayed call is made
	// with a context that carries no Thread.
	ErrNoThread = errors.New("no thread in context: use engine.WithThread")
)

// ReplayError represents a protocol violation detected during replay.
//
// Replay errors are unrecoverable: the trace and the running code disagree,
// and no later call can be matched reliably.
type ReplayError struct {
	// Code identifies the error category.
	Code ReplayErrorCode

	// Message is a human-readable description.
	Message string

	// Thread is the logical thread the error was detected on.
	Thread ThreadID

	// Expected is the call id the trace holds for Thread.
	Expected callid.CallID

	// Got is the call id the code requested.
	Got callid.CallID

	// Label is the label of the requested call.
	Label string
}

// ReplayErrorCode categorizes replay errors.
type ReplayErrorCode string

const (
	// ErrCodeMismatch indicates a thread asked for a different call than
	// the one the trace records next for it.
	ErrCodeMismatch ReplayErrorCode = "CALL_SEQUENCE_MISMATCH"

	// ErrCodeTruncated indicates the trace ended inside a record.
	ErrCodeTruncated ReplayErrorCode = "TRUNCATED_TRACE"
)

// Error implements the error interface.
func (e *ReplayError) Error() string {
	if e.Code == ErrCodeMismatch {
		return fmt.Sprintf("%s: %s (thread=%d, expected=%s, got=%s %q)",
			e.Code, e.Message, e.Thread, e.Expected, e.Got, e.Label)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsMismatch reports whether err is a call sequence mismatch.
// Uses errors.As to handle wrapped errors.
func IsMismatch(err error) bool {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMismatch
	}
	return false
}

// IsTruncated reports whether err is a truncated-trace error.
func IsTruncated(err error) bool {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code == ErrCodeTruncated
	}
	return false
}

// NewMismatchError creates a ReplayError for a call sequence mismatch.
func NewMismatchError(thread ThreadID, expected, got callid.CallID, label string) *ReplayError {
	return &ReplayError{
		Code:     ErrCodeMismatch,
		Message:  "replayed call differs from recorded call",
		Thread:   thread,
		Expected: expected,
		Got:      got,
		Label:    label,
	}
}

// NewTruncatedError creates a ReplayError for a trace that ends mid-record.
func NewTruncatedError(what string) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeTruncated,
		Message: fmt.Sprintf("trace ended before %s", what),
	}
}
