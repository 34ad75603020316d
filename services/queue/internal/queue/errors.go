package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPending is returned when an approval or deletion targets an order
	// that already left the pending state.
	ErrNotPending = errors.New("order is not pending")
	// ErrAlreadyProcessed is the staff-facing name for ErrNotPending.
	ErrAlreadyProcessed = ErrNotPending
	// ErrTransactionConflict means the store aborted a transaction because of
	// concurrent writes. The whole operation can be retried.
	ErrTransactionConflict = errors.New("transaction conflict, try again")
	// ErrSessionNotFound is returned when activating a session that was never
	// started. Counter operations create a zeroed counter instead.
	ErrSessionNotFound = errors.New("session not found")
	ErrOrderNotFound   = errors.New("order no longer exists")
	ErrValidation      = errors.New("invalid order")

	ErrNotApproved         = errors.New("order has no ticket yet")
	ErrAlreadyCompleted    = errors.New("order is already completed")
	ErrOrderLocked         = errors.New("order can no longer be edited")
	ErrSessionExists       = errors.New("session already exists")
	ErrDuplicateSubmission = errors.New("order submission already in progress")
)

// ValidationError reports the first rejected field of a submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
