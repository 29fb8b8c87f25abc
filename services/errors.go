package services

import (
	"errors"
	"fmt"

	"github.com/upb/compliance-ledger/repositories"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound               ErrorType = "not_found"
	ErrorTypeValidation             ErrorType = "validation"
	ErrorTypeInvalidStateTransition ErrorType = "invalid_state_transition"
	ErrorTypeStorageUnavailable     ErrorType = "storage_unavailable"
	ErrorTypeIntegrityViolation     ErrorType = "integrity_violation"
	ErrorTypeUnauthorized           ErrorType = "unauthorized"
	ErrorTypeForbidden              ErrorType = "forbidden"
	ErrorTypeRateLimit              ErrorType = "rate_limit"
	ErrorTypeConflict               ErrorType = "conflict"
	ErrorTypeInternal               ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsRetryable reports whether the caller may safely retry the operation.
// Only transient storage failures qualify.
func (e *DomainError) IsRetryable() bool {
	return e.Type == ErrorTypeStorageUnavailable
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. Use them as errors.Is targets; build a fresh error with
// NewDomainError when details are needed.

var (
	// Not Found Errors
	ErrOrganizationNotFound = NewDomainError(ErrorTypeNotFound, "organization not found", nil)
	ErrFrameworkNotFound    = NewDomainError(ErrorTypeNotFound, "framework not found", nil)
	ErrControlNotFound      = NewDomainError(ErrorTypeNotFound, "control not found", nil)
	ErrSlotNotFound         = NewDomainError(ErrorTypeNotFound, "evidence slot not found", nil)
	ErrVersionNotFound      = NewDomainError(ErrorTypeNotFound, "evidence version not found", nil)
	ErrTaskNotFound         = NewDomainError(ErrorTypeNotFound, "task not found", nil)
	ErrPolicyNotFound       = NewDomainError(ErrorTypeNotFound, "policy not found", nil)
	ErrExportNotFound       = NewDomainError(ErrorTypeNotFound, "audit export not found", nil)
	ErrContentNotFound      = NewDomainError(ErrorTypeNotFound, "content not found", nil)

	// Validation Errors
	ErrInvalidInput  = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyContent  = NewDomainError(ErrorTypeValidation, "content cannot be empty", nil)
	ErrInvalidDigest = NewDomainError(ErrorTypeValidation, "invalid content digest", nil)
	ErrSlotInactive  = NewDomainError(ErrorTypeValidation, "evidence slot is inactive", nil)

	// State Errors
	ErrInvalidStateTransition = NewDomainError(ErrorTypeInvalidStateTransition, "invalid state transition", nil)

	// Storage Errors
	ErrStorageUnavailable = NewDomainError(ErrorTypeStorageUnavailable, "storage unavailable", nil)
	ErrIntegrityViolation = NewDomainError(ErrorTypeIntegrityViolation, "stored content failed digest verification", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden               = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "insufficient permissions", nil)

	// Rate Limit Errors
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)

	// Conflict Errors
	ErrDuplicateSlot      = NewDomainError(ErrorTypeConflict, "evidence slot already exists", nil)
	ErrDuplicateControl   = NewDomainError(ErrorTypeConflict, "control code already exists", nil)
	ErrExportNotReady     = NewDomainError(ErrorTypeConflict, "audit export is not ready", nil)
	ErrConcurrentUpdate   = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Error type checking helper functions

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsInvalidStateTransitionError checks if an error is an illegal state transition
func IsInvalidStateTransitionError(err error) bool {
	return hasType(err, ErrorTypeInvalidStateTransition)
}

// IsStorageUnavailableError checks if an error is a transient storage failure
func IsStorageUnavailableError(err error) bool {
	return hasType(err, ErrorTypeStorageUnavailable)
}

// IsIntegrityViolationError checks if an error reports corrupted content
func IsIntegrityViolationError(err error) bool {
	return hasType(err, ErrorTypeIntegrityViolation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return hasType(err, ErrorTypeForbidden)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return hasType(err, ErrorTypeRateLimit)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// IsRetryable reports whether err is a domain error the caller may retry.
func IsRetryable(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.IsRetryable()
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapStorage wraps an error as a transient storage failure
func WrapStorage(message string, err error) error {
	return NewDomainError(ErrorTypeStorageUnavailable, message, err)
}

// FromRepository translates repository sentinel errors into domain errors.
// notFound is returned (wrapping err) when the row is missing or belongs to another
// organization. Domain errors pass through unchanged; anything else is reported as a
// storage failure since the persistence layer could not answer.
func FromRepository(err error, notFound *DomainError) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return NewDomainError(ErrorTypeNotFound, notFound.Message, err)
	case errors.Is(err, repositories.ErrDuplicate):
		return NewDomainError(ErrorTypeConflict, "resource already exists", err)
	case errors.Is(err, repositories.ErrStaleState):
		return NewDomainError(ErrorTypeConflict, ErrConcurrentUpdate.Message, err)
	}
	return WrapStorage("persistence layer error", err)
}
