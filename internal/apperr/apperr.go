package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a closed enumeration of application error codes. Every error
// that crosses the API boundary carries one, and each code maps onto a
// canonical HTTP status.
type Code string

const (
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeRunNotFound         Code = "RUN_NOT_FOUND"
	CodeApprovalNotFound    Code = "APPROVAL_NOT_FOUND"
	CodeApprovalResolved    Code = "APPROVAL_ALREADY_RESOLVED"
	CodeFileNotFound        Code = "FILE_NOT_FOUND"
	CodeActiveRunExists     Code = "ACTIVE_RUN_EXISTS"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeRunQuotaExceeded    Code = "SESSION_RUN_QUOTA_EXCEEDED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalidPath         Code = "INVALID_PATH"
	CodeUploadTooLarge      Code = "UPLOAD_TOO_LARGE"
	CodeUnsupportedFile     Code = "UNSUPPORTED_FILE_TYPE"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Status returns the HTTP status the code maps to.
func (c Code) Status() int {
	switch c {
	case CodeSessionNotFound, CodeRunNotFound, CodeApprovalNotFound, CodeFileNotFound:
		return http.StatusNotFound
	case CodeActiveRunExists, CodeIdempotencyConflict, CodeApprovalResolved, CodeInvalidState:
		return http.StatusConflict
	case CodeRunQuotaExceeded, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidPath, CodeUploadTooLarge, CodeUnsupportedFile:
		return http.StatusUnprocessableEntity
	case CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is an application error with a stable code.
type Error struct {
	Code    Code
	Message string
	Details any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// From coerces any error into an *Error. Unknown errors become
// INTERNAL_ERROR with the original message preserved.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
