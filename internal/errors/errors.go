// Package errors provides the coded error taxonomy used across the sync
// engine. Codes decide propagation: transient and integrity errors are
// absorbed into requeue/skip actions, auth and persistence errors abort the
// whole pass.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies an error class.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Sync errors
	ErrTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
	ErrAuthRequired     ErrorCode = "AUTH_REQUIRED"
	ErrConflictDetected ErrorCode = "CONFLICT_DETECTED"
	ErrDataIntegrity    ErrorCode = "DATA_INTEGRITY"
	ErrPersistence      ErrorCode = "PERSISTENCE"
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncCancelled    ErrorCode = "SYNC_CANCELLED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost AppError in the chain, or
// ErrInternal for plain errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Retryable reports whether the error should be retried with backoff rather
// than surfaced as fatal.
func Retryable(err error) bool {
	return CodeOf(err) == ErrTransientNetwork
}
