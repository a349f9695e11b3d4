package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeValidation indicates the user supplied something unusable
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeProvider indicates a failure reported by the places provider
	ErrorTypeProvider ErrorType = "PROVIDER"

	// ErrorTypeDuplicateRequest indicates a page fetch is already running for the session
	ErrorTypeDuplicateRequest ErrorType = "DUPLICATE_REQUEST"

	// ErrorTypeSessionExpired indicates the session idled out and must restart
	ErrorTypeSessionExpired ErrorType = "SESSION_EXPIRED"

	// ErrorTypeInternal indicates an internal error
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// Code narrows an ErrorType down to the concrete reason.
type Code string

const (
	CodeMissingOrigin   Code = "MISSING_ORIGIN"
	CodeInvalidLocation Code = "INVALID_LOCATION"
	CodeInvalidRadius   Code = "INVALID_RADIUS"
	CodeEmptyQuery      Code = "EMPTY_QUERY"
	CodeUnknownCategory Code = "UNKNOWN_CATEGORY"
	CodeMissingSearch   Code = "MISSING_SEARCH"

	CodeAuth           Code = "AUTH"
	CodeQuotaExceeded  Code = "QUOTA_EXCEEDED"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeTransient      Code = "TRANSIENT"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	prefix := string(e.Type)
	if e.Code != "" {
		prefix += "/" + string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(code Code, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewProviderError creates a new places provider error
func NewProviderError(code Code, message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeProvider,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewDuplicateRequestError creates an error for a page fetch that is already in flight
func NewDuplicateRequestError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeDuplicateRequest,
		Message: message,
	}
}

// NewSessionExpiredError creates an error for a session that idled out
func NewSessionExpiredError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeSessionExpired,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == t
}

// CodeOf returns the code of the AppError in err's chain, or "".
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}
