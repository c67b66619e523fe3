package errors

import (
	"errors"
	"fmt"
)

var (
	// Mass pay errors
	ErrArityMismatch     = errors.New("arity mismatch")
	ErrInvalidReceiver   = errors.New("invalid receiver type")
	ErrTooManyRecipients = errors.New("too many recipients")

	// Payout errors
	ErrPayoutNotFound         = errors.New("payout not found")
	ErrNoRecipients           = errors.New("payout has no recipients")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidCurrency        = errors.New("invalid currency")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrMaxRetriesExceeded     = errors.New("max retries exceeded")
	ErrOptimisticLockFailed   = errors.New("optimistic lock conflict")

	// Provider errors
	ErrProviderNotFound    = errors.New("payment provider not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payout rejected by provider")
	ErrProviderTimeout     = errors.New("provider request timeout")

	// ErrProviderOutcomeUnknown means the request may have reached the provider
	// but no answer was received. Resending it could pay twice.
	ErrProviderOutcomeUnknown = errors.New("provider outcome unknown")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

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

// Unwrap lets callers match any validation error with errors.Is(err, ErrValidationFailed).
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
