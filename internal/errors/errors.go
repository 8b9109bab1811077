// Package errors provides the application error taxonomy for the graph store.
// Every failure the registry or the HTTP surface reports is an *AppError, so
// callers can branch on Type instead of parsing messages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// Lifecycle errors
	ErrorTypeNotReady ErrorType = "NOT_READY"

	// Domain errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"

	// Infrastructure errors
	ErrorTypeStorage     ErrorType = "STORAGE"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeCanceled    ErrorType = "CANCELED"
	ErrorTypeRateLimit   ErrorType = "RATE_LIMIT"
	ErrorTypeInternal    ErrorType = "INTERNAL"
)

// StatusClientClosedRequest is reported when the caller abandoned the request.
const StatusClientClosedRequest = 499

// ErrNotReady is the cause of every Not-Ready failure. errors.Is(err, ErrNotReady)
// holds for all of them.
var ErrNotReady = errors.New("registry is not initialized")

// AppError represents an application-specific error.
type AppError struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Operation string    `json:"operation,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.Operation != "" {
		msg = fmt.Sprintf("%s: %s (operation=%s)", e.Type, e.Message, e.Operation)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithOperation records the operation that failed.
func (e *AppError) WithOperation(operation string) *AppError {
	e.Operation = operation
	return e
}

// WithResource records the resource being operated on.
func (e *AppError) WithResource(resource string) *AppError {
	e.Resource = resource
	return e
}

// WithCause wraps an underlying error.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithRetryable marks the error as retryable (or not).
func (e *AppError) WithRetryable(retryable bool) *AppError {
	e.Retryable = retryable
	return e
}

// Constructor functions for common error types

// NewNotReadyError reports an operation invoked before the registry reached Ready.
func NewNotReadyError(operation string) *AppError {
	return &AppError{
		Type:      ErrorTypeNotReady,
		Code:      "REGISTRY_NOT_READY",
		Message:   "registry must be initialized before use",
		Operation: operation,
		Cause:     ErrNotReady,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Code:    "INVALID_INPUT",
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(resource, id string) *AppError {
	return &AppError{
		Type:     ErrorTypeNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s %q not found", resource, id),
		Resource: resource,
	}
}

// NewStorageError creates a storage error for a failed backend operation.
func NewStorageError(operation string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeStorage,
		Code:      "STORAGE_FAILURE",
		Message:   "storage operation failed",
		Operation: operation,
		Cause:     err,
	}
}

// NewUnavailableError creates a service unavailable error.
func NewUnavailableError(service string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeUnavailable,
		Code:      "UNAVAILABLE",
		Message:   fmt.Sprintf("%s is unavailable", service),
		Retryable: true,
		Cause:     err,
	}
}

// NewContextError converts a context failure observed before an operation
// started. The context error stays reachable through errors.Is.
func NewContextError(operation string, err error) *AppError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Type:      ErrorTypeTimeout,
			Code:      "DEADLINE_EXCEEDED",
			Message:   "operation deadline exceeded",
			Operation: operation,
			Cause:     err,
		}
	}
	return &AppError{
		Type:      ErrorTypeCanceled,
		Code:      "REQUEST_CANCELED",
		Message:   "operation canceled by caller",
		Operation: operation,
		Cause:     err,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Code:    "INTERNAL",
		Message: message,
	}
}

// Helper functions

// GetAppError extracts an AppError from an error chain.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotReady reports whether err is a Not-Ready failure.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// HTTPStatus maps an error onto the status code the HTTP surface should use.
func HTTPStatus(err error) int {
	appErr := GetAppError(err)
	if appErr == nil {
		return http.StatusInternalServerError
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeNotReady, ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeCanceled:
		return StatusClientClosedRequest
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
