package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies pipeline errors for propagation decisions (§retry
// loop, DLQ routing, ack/nack mapping).
type ErrorCode string

const (
	ErrCodeConnection          ErrorCode = "CONNECTION_ERROR"
	ErrCodeSerialization       ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeTypeMismatch        ErrorCode = "TYPE_MISMATCH"
	ErrCodeTransient           ErrorCode = "TRANSIENT_ERROR"
	ErrCodeBusiness            ErrorCode = "BUSINESS_ERROR"
	ErrCodeCriticalPersistence ErrorCode = "CRITICAL_PERSISTENCE"
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// Failure codes persisted on dead-letter entries and failed submissions.
// These strings are part of the operator contract; the UI differentiates
// by code, never by parsing error_message.
const (
	FailureMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
	FailureDeserialization    = "DESERIALIZATION_ERROR"
	FailureStuckJob           = "STUCK_JOB"
	FailureResultProcessing   = "RESULT_PROCESSING_FAILED"
	FailureWorkerProcessing   = "WORKER_PROCESSING_FAILED"
	FailureMQError            = "MQ_ERROR"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyResolved   = errors.New("entry already resolved")
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	ErrRateLimited       = errors.New("rate limit exceeded")

	// ErrDiscard tells the broker adapter to ack and drop the message.
	// Handlers wrap it after the poison path has already committed a
	// dead-letter record, so redelivery would only loop.
	ErrDiscard = errors.New("discard message")
)

// AppError carries a classification code alongside the message and cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a broker/connection error (redeliverable).
func NewConnectionError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeConnection, Message: message, Err: err}
}

// NewSerializationError creates a decode error (poison, never retried).
func NewSerializationError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeSerialization, Message: message, Err: err}
}

// NewTransientError creates a retryable infrastructure error.
func NewTransientError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeTransient, Message: message, Err: err}
}

// NewBusinessError creates a retryable business error, e.g. a submission
// row that has not become visible yet.
func NewBusinessError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeBusiness, Message: message, Err: err}
}

// NewCriticalPersistenceError marks a failed dead-letter commit. The
// message would be lost if acked, so callers must request redelivery.
func NewCriticalPersistenceError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeCriticalPersistence, Message: message, Err: err}
}

// NewInvalidInput creates a validation error.
func NewInvalidInput(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message}
}

// NewInternal creates an unclassified internal error.
func NewInternal(message string, err error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message, Err: err}
}

// TypeMismatchError reports an envelope whose message_type tag disagrees
// with what the consumer expected.
type TypeMismatchError struct {
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("message type mismatch: expected %q, got %q", e.Expected, e.Actual)
}

// IsRetryable reports whether an error may safely be retried in-process.
// Decode failures are poison and must go straight to the dead-letter
// store; everything unclassified defaults to retryable so transient
// driver errors bubble into the retry loop.
func IsRetryable(err error) bool {
	var tm *TypeMismatchError
	if errors.As(err, &tm) {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrCodeSerialization, ErrCodeTypeMismatch, ErrCodeInvalidInput:
			return false
		}
	}
	return true
}
