// Package errors provides the typed domain error taxonomy shared by the
// session, store and notification layers.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Error Codes
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Authentication
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUnknownAccount     ErrorCode = "UNKNOWN_ACCOUNT"
	ErrCodeEmailInUse         ErrorCode = "EMAIL_IN_USE"
	ErrCodeMalformedEmail     ErrorCode = "MALFORMED_EMAIL"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"

	// Authorization
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Domain invariants
	ErrCodeAlreadyApplied    ErrorCode = "ALREADY_APPLIED"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Transport / listener
	ErrCodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeListenerFailed      ErrorCode = "LISTENER_FAILED"
	ErrCodeProfileCreateFailed ErrorCode = "PROFILE_CREATE_FAILED"
)

// ==========================
// 2. Domain Error Type
// ==========================

// DomainError represents a structured, user-presentable application error.
type DomainError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("DomainError[%s]: %s", e.Code, e.Message)
}

// CodeOf extracts the error code from any error in the chain, or empty.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether err carries the given domain code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ==========================
// 3. Error Constructors
// ==========================

// NewInvalidCredentialsError creates a non-retryable authentication error.
func NewInvalidCredentialsError(details string) *DomainError {
	return &DomainError{
		Code:      ErrCodeInvalidCredentials,
		Message:   "Invalid email or password",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownAccountError creates a non-retryable authentication error.
func NewUnknownAccountError(email string) *DomainError {
	return &DomainError{
		Code:      ErrCodeUnknownAccount,
		Message:   "No account exists for this email",
		Details:   fmt.Sprintf("email: %s", email),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmailInUseError creates a non-retryable duplicate-registration error.
func NewEmailInUseError(email string) *DomainError {
	return &DomainError{
		Code:      ErrCodeEmailInUse,
		Message:   "An account already exists for this email",
		Details:   fmt.Sprintf("email: %s", email),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedEmailError creates a non-retryable input error.
func NewMalformedEmailError(email string) *DomainError {
	return &DomainError{
		Code:      ErrCodeMalformedEmail,
		Message:   "Email address is not valid",
		Details:   fmt.Sprintf("email: %s", email),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError creates a retryable authentication error.
func NewRateLimitedError(details string) *DomainError {
	return &DomainError{
		Code:      ErrCodeRateLimited,
		Message:   "Too many attempts, try again later",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPermissionDeniedError creates a non-retryable authorization error.
func NewPermissionDeniedError(operation, role string) *DomainError {
	return &DomainError{
		Code:      ErrCodePermissionDenied,
		Message:   fmt.Sprintf("Role %q may not call %s", role, operation),
		Details:   fmt.Sprintf("operation: %s, role: %s", operation, role),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadyAppliedError creates a non-retryable duplicate-application error.
func NewAlreadyAppliedError(candidateID, jobID string) *DomainError {
	return &DomainError{
		Code:      ErrCodeAlreadyApplied,
		Message:   "You have already applied to this job",
		Details:   fmt.Sprintf("candidateId: %s, jobId: %s", candidateID, jobID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError creates a non-retryable state machine error.
func NewInvalidTransitionError(from, to string) *DomainError {
	return &DomainError{
		Code:      ErrCodeInvalidTransition,
		Message:   fmt.Sprintf("Status cannot change from %s to %s", from, to),
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable lookup error.
func NewNotFoundError(kind, id string) *DomainError {
	return &DomainError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", kind),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable payload validation error.
func NewValidationFailedError(details string) *DomainError {
	return &DomainError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError creates a retryable remote-store error.
func NewStoreUnavailableError(err error) *DomainError {
	return &DomainError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Remote store request failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewListenerFailedError creates a terminal subscription error.
func NewListenerFailedError(collection string, err error) *DomainError {
	return &DomainError{
		Code:      ErrCodeListenerFailed,
		Message:   "Live subscription failed",
		Details:   fmt.Sprintf("collection: %s, error: %s", collection, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProfileCreateFailedError creates a retryable registration error: the
// authentication principal exists but its profile document does not.
func NewProfileCreateFailedError(principalID string, err error) *DomainError {
	return &DomainError{
		Code:      ErrCodeProfileCreateFailed,
		Message:   "Account was created but the profile could not be saved",
		Details:   fmt.Sprintf("principalId: %s, error: %s", principalID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}
