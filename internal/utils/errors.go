package utils

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers match with errors.Is.
var (
	// ErrClassificationUnavailable marks oracle timeouts/errors; non-fatal,
	// the caller falls back to the default category.
	ErrClassificationUnavailable = errors.New("classification unavailable")
	// ErrWriteConflict is returned once bounded retries on a contended
	// aggregator row are exhausted.
	ErrWriteConflict = errors.New("aggregator write conflict")
	// ErrDetectionFailed wraps a single event's unrecoverable failure.
	ErrDetectionFailed = errors.New("detection failed")
	// ErrInvalidStateTransition rejects a disallowed insight status change.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrDeliveryFailed marks a failed channel delivery, recorded in the ledger.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrReportAlreadySent rejects regeneration of a sent report period.
	ErrReportAlreadySent = errors.New("report already sent")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
