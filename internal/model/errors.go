package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidTransition  = errors.New("invalid job transition")
	ErrJobNotFound        = errors.New("generation job not found")
	ErrAccountNotFound    = errors.New("credit account not found")
	ErrAccountExists      = errors.New("credit account already exists")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrSubmissionInFlight = errors.New("submission with this idempotency key is still in flight")
)

// InsufficientCreditError reports how far short the balance fell.
type InsufficientCreditError struct {
	UserID    string
	Required  int64
	Available int64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for user %s: required %d, available %d (short %d)",
		e.UserID, e.Required, e.Available, e.Shortfall())
}

func (e *InsufficientCreditError) Shortfall() int64 {
	return e.Required - e.Available
}

func (e *InsufficientCreditError) Unwrap() error {
	return ErrInsufficientCredit
}

// TransitionError is returned when a compare-and-set on job status loses.
// Current is the status observed after the failed write.
type TransitionError struct {
	JobID   uuid.UUID
	Current JobStatus
	To      JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.JobID, e.Current, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StorageError wraps a persistence failure. Retryable failures left no partial write behind.
type StorageError struct {
	Op        string
	Err       error
	retryable bool
}

func NewStorageError(op string, err error, retryable bool) *StorageError {
	return &StorageError{Op: op, Err: err, retryable: retryable}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Retryable() bool {
	return e.retryable
}

// IsRetryable reports whether err is safe to retry as a whole.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// A StorageError's own flag wins over a deadline it wraps.
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, ErrSubmissionInFlight) || errors.Is(err, context.DeadlineExceeded)
}
