package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for memory core errors.
type ErrorCode string

// Access control error codes
const (
	PERMISSION_DENIED ErrorCode = "PERMISSION_DENIED"
	UNKNOWN_OPERATION ErrorCode = "UNKNOWN_OPERATION"
)

// Coordination error codes
const (
	CONFLICT              ErrorCode = "CONFLICT"
	SUBSTRATE_UNAVAILABLE ErrorCode = "SUBSTRATE_UNAVAILABLE"
	DUPLICATE_PATTERN     ErrorCode = "DUPLICATE_PATTERN"
	PATTERN_NOT_STAGED    ErrorCode = "PATTERN_NOT_STAGED"
	SESSION_NOT_FOUND     ErrorCode = "SESSION_NOT_FOUND"
)

// Classification and crypto error codes
const (
	CLASSIFICATION_VIOLATION ErrorCode = "CLASSIFICATION_VIOLATION"
	ENCRYPT_FAILED           ErrorCode = "ENCRYPT_FAILED"
	DECRYPT_AUTH_FAILED      ErrorCode = "DECRYPT_AUTH_FAILED"
	KEY_NOT_CONFIGURED       ErrorCode = "KEY_NOT_CONFIGURED"
)

// Audit error codes
const (
	AUDIT_WRITE_FAILED   ErrorCode = "AUDIT_WRITE_FAILED"
	AUDIT_CHAIN_BROKEN   ErrorCode = "AUDIT_CHAIN_BROKEN"
	SECURITY_VIOLATION   ErrorCode = "SECURITY_VIOLATION"
)

// Long-term store error codes
const (
	STORE_OPEN_FAILED   ErrorCode = "STORE_OPEN_FAILED"
	STORE_QUERY_FAILED  ErrorCode = "STORE_QUERY_FAILED"
	PATTERN_NOT_FOUND   ErrorCode = "PATTERN_NOT_FOUND"
	PATTERN_IMMUTABLE   ErrorCode = "PATTERN_IMMUTABLE"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// MemoryError represents a structured error with error code, message, and
// optional cause. It supports error wrapping and retryability hints so callers
// can distinguish races worth retrying from hard denials.
type MemoryError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *MemoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *MemoryError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is a MemoryError with the same Code.
func (e *MemoryError) Is(target error) bool {
	var memErr *MemoryError
	if errors.As(target, &memErr) {
		return e.Code == memErr.Code
	}
	return false
}

// NewError creates a new non-retryable MemoryError with the given code and message.
func NewError(code ErrorCode, message string) *MemoryError {
	return &MemoryError{
		Code:    code,
		Message: message,
	}
}

// NewRetryableError creates a new retryable MemoryError with the given code and message.
func NewRetryableError(code ErrorCode, message string) *MemoryError {
	return &MemoryError{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// WrapError creates a new MemoryError wrapping an underlying cause.
func WrapError(code ErrorCode, message string, cause error) *MemoryError {
	return &MemoryError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsCode reports whether err carries the given error code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var memErr *MemoryError
	if errors.As(err, &memErr) {
		return memErr.Code == code
	}
	return false
}

// IsRetryable reports whether err is a MemoryError marked retryable.
func IsRetryable(err error) bool {
	var memErr *MemoryError
	if errors.As(err, &memErr) {
		return memErr.Retryable
	}
	return false
}
