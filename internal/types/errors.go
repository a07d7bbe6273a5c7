package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. All components MUST use these constants instead of
// hardcoded strings: callers branch on the code's kind (api_ / database_ /
// queue_ prefix) to decide retry vs. abort.
const (
	// Upstream SIGAE API failures.
	ErrCodeAPIRequestFailed ErrorCode = "api_request_failed"
	ErrCodeAPIBadStatus     ErrorCode = "api_unexpected_status"
	ErrCodeAPIDecodeFailed  ErrorCode = "api_decode_failed"
	ErrCodeAPICircuitOpen   ErrorCode = "api_circuit_open"

	// Persistence failures.
	ErrCodeDBQueryFailed  ErrorCode = "database_query_failed"
	ErrCodeDBUpsertFailed ErrorCode = "database_upsert_failed"
	ErrCodeDBNotFound     ErrorCode = "database_record_not_found"

	// Job queue infrastructure failures.
	ErrCodeQueueEnqueueFailed  ErrorCode = "queue_enqueue_failed"
	ErrCodeQueueConsumeFailed  ErrorCode = "queue_consume_failed"
	ErrCodeQueueScheduleFailed ErrorCode = "queue_schedule_failed"
	ErrCodeQueueBadPayload     ErrorCode = "queue_payload_invalid"
)

// ErrorKind groups error codes into the three failure families the workers
// care about.
type ErrorKind string

const (
	KindAPI      ErrorKind = "api_error"
	KindDatabase ErrorKind = "database_error"
	KindQueue    ErrorKind = "queue_error"
	KindUnknown  ErrorKind = "unknown_error"
)

// Kind classifies the code by its prefix.
func (c ErrorCode) Kind() ErrorKind {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "api_"):
		return KindAPI
	case strings.HasPrefix(s, "database_"):
		return KindDatabase
	case strings.HasPrefix(s, "queue_"):
		return KindQueue
	default:
		return KindUnknown
	}
}

// AppError is the standard application error type used throughout the
// service. All domain errors are expressed as AppError so callers can branch
// on Code and Kind without unwrapping vendor errors.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Kind returns the failure family of the error's code.
func (e *AppError) Kind() ErrorKind {
	return e.Code.Kind()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// KindOf classifies an arbitrary error. Non-AppError values report
// KindUnknown, which workers treat like any other failure: log and retry via
// requeue.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind()
	}
	return KindUnknown
}
