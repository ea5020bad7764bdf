package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these constants instead of
// hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationOutOfRange   ErrorCode = "validation_out_of_range"
	ErrCodeValidationConfirmation ErrorCode = "validation_confirmation_required"

	// Not Found (404)
	ErrCodeNotFoundOrder ErrorCode = "not_found_order"

	// Broker (502). A broker-level failure aborts only the current scan;
	// partial aggregated results are still returned.
	ErrCodeBrokerUnavailable ErrorCode = "broker_unavailable"

	// Per-record transfer failures. Isolated to a single candidate record;
	// the surrounding scan continues.
	ErrCodeSerialization      ErrorCode = "transfer_serialization_error"
	ErrCodeCancelFailed       ErrorCode = "transfer_cancel_failed"
	ErrCodePartialFailureLost ErrorCode = "transfer_partial_failure_lost"

	// Tracking store failures silently degrade: the transfer proceeds
	// broker-only. Surfaced only by operations that exist to read the store.
	ErrCodeTrackingUnavailable ErrorCode = "tracking_store_unavailable"

	// Internal (500)
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its HTTP status code. Returns 500 for
// unrecognized codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case s == string(ErrCodeBrokerUnavailable), s == string(ErrCodeTrackingUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain and handler errors
// are expressed as AppError to get consistent formatting, HTTP status
// mapping, and error chain support.
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

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
