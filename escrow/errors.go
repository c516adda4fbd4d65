package escrow

import "errors"

// Failure taxonomy. Every precondition violation aborts the whole operation
// with no partial mutation; custody and job status change together or not at
// all. Callers classify failures with errors.Is.
var (
	// ErrNotFound reports an unknown job identifier.
	ErrNotFound = errors.New("escrow: job not found")
	// ErrUnauthorized reports a caller lacking the required role for the job.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrInvalidState reports a job outside the required status, including
	// repeat attempts against an already-terminal job.
	ErrInvalidState = errors.New("escrow: job not in required status")
	// ErrDeadlinePassed reports a refund attempted at or after the deadline.
	ErrDeadlinePassed = errors.New("escrow: deadline passed")
	// ErrDeadlineNotReached reports an auto-release attempted before the deadline.
	ErrDeadlineNotReached = errors.New("escrow: deadline not reached")
	// ErrPaused reports a mutating call while the service is paused.
	ErrPaused = errors.New("escrow: paused")
	// ErrInvalidInput reports malformed arguments: non-positive amount or
	// duration, zero address, or self-dealing.
	ErrInvalidInput = errors.New("escrow: invalid input")
	// ErrInsufficientFunds reports a deposit the client account cannot cover.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
)
