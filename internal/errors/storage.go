package errors

import (
	"context"
	"errors"
	"net"

	"github.com/aws/smithy-go"
)

// FromStorageError converts a backend failure into an AppError whose Type and
// Retryable flag drive the durability pipeline's retry decision.
func FromStorageError(operation, resource string, cause error) *AppError {
	if cause == nil {
		return nil
	}
	if appErr := GetAppError(cause); appErr != nil {
		return appErr
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		return &AppError{
			Type:      ErrorTypeTimeout,
			Code:      "STORAGE_TIMEOUT",
			Message:   "storage operation timed out",
			Operation: operation,
			Resource:  resource,
			Retryable: true,
			Cause:     cause,
		}
	}
	if errors.Is(cause, context.Canceled) {
		return NewStorageError(operation, cause).WithResource(resource)
	}

	if appErr := fromAPIError(operation, resource, cause); appErr != nil {
		return appErr
	}

	var netErr net.Error
	if errors.As(cause, &netErr) {
		return NewUnavailableError("storage", cause).
			WithOperation(operation).
			WithResource(resource)
	}

	// Unknown failures are treated as transient.
	return NewStorageError(operation, cause).
		WithResource(resource).
		WithRetryable(true)
}

// fromAPIError maps AWS service error codes.
func fromAPIError(operation, resource string, cause error) *AppError {
	var ae smithy.APIError
	if !errors.As(cause, &ae) {
		return nil
	}

	switch ae.ErrorCode() {
	case "ProvisionedThroughputExceededException", "RequestLimitExceeded", "ThrottlingException":
		return &AppError{
			Type:      ErrorTypeRateLimit,
			Code:      ae.ErrorCode(),
			Message:   "storage throughput exceeded",
			Operation: operation,
			Resource:  resource,
			Retryable: true,
			Cause:     cause,
		}
	case "ResourceNotFoundException":
		return &AppError{
			Type:      ErrorTypeNotFound,
			Code:      ae.ErrorCode(),
			Message:   "storage table or resource not found",
			Operation: operation,
			Resource:  resource,
			Cause:     cause,
		}
	case "ConditionalCheckFailedException", "TransactionConflictException":
		return &AppError{
			Type:      ErrorTypeConflict,
			Code:      ae.ErrorCode(),
			Message:   "conditional write rejected",
			Operation: operation,
			Resource:  resource,
			Cause:     cause,
		}
	case "ValidationException", "SerializationException":
		return &AppError{
			Type:      ErrorTypeValidation,
			Code:      ae.ErrorCode(),
			Message:   ae.ErrorMessage(),
			Operation: operation,
			Resource:  resource,
			Cause:     cause,
		}
	}

	return &AppError{
		Type:      ErrorTypeStorage,
		Code:      ae.ErrorCode(),
		Message:   ae.ErrorMessage(),
		Operation: operation,
		Resource:  resource,
		Retryable: ae.ErrorFault() == smithy.FaultServer,
		Cause:     cause,
	}
}

// IsRetryable reports whether a durable operation that failed with err may be
// attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	appErr := GetAppError(err)
	if appErr == nil {
		appErr = FromStorageError("", "", err)
	}
	return appErr.Retryable
}
