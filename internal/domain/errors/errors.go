package errors

import (
	"errors"
	"fmt"
)

var (
	// Transaction errors
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrUnknownTransactionType = errors.New("unknown transaction type")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrTerminalConflict       = errors.New("transaction already in terminal state")
	ErrNotCancellable         = errors.New("transaction cannot be cancelled")
	ErrMaxRetriesExceeded     = errors.New("max retries exceeded")

	// Processor errors
	ErrProcessorNotFound    = errors.New("processor not found")
	ErrProcessorUnavailable = errors.New("processor unavailable")
	ErrProcessorTimeout     = errors.New("processor request timeout")

	// Store errors
	ErrStoreUnavailable = errors.New("store unavailable")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// ProcessorError is returned by a Processor to control retry routing.
// Retryable failures count against the configured attempt budget;
// non-retryable failures fail the transaction immediately.
type ProcessorError struct {
	Message   string
	Retryable bool
	Err       error
}

func (e *ProcessorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a processor error counted against max retries.
func NewRetryableError(message string, err error) *ProcessorError {
	return &ProcessorError{Message: message, Retryable: true, Err: err}
}

// NewPermanentError creates a processor error routed straight to failed.
func NewPermanentError(message string, err error) *ProcessorError {
	return &ProcessorError{Message: message, Retryable: false, Err: err}
}

// IsRetryable reports whether a processor failure may be retried. Errors
// that do not explicitly signal otherwise are treated as retryable.
func IsRetryable(err error) bool {
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
