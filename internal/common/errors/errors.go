// Package errors provides custom error types for the zipper manager.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Worker session codes
	ErrCodeAlreadyRunning    = "ALREADY_RUNNING"
	ErrCodeExecutableMissing = "EXECUTABLE_MISSING"
	ErrCodeBuildFailed       = "BUILD_FAILED"
	ErrCodeBuildTimeout      = "BUILD_TIMEOUT"
	ErrCodeProcessFailed     = "PROCESS_FAILED"

	// Repository workflow codes
	ErrCodeStatusQuery = "STATUS_QUERY"
	ErrCodePublish     = "PUBLISH"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// AlreadyRunning creates the error returned when a start request arrives
// while a session is active.
func AlreadyRunning(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeAlreadyRunning,
		Message:    fmt.Sprintf("a session is already running (session: %s)", sessionID),
		HTTPStatus: http.StatusConflict,
	}
}

// ExecutableMissing creates the error returned when the worker binary cannot
// be located and no build step is configured.
func ExecutableMissing(path string) *AppError {
	return &AppError{
		Code:       ErrCodeExecutableMissing,
		Message:    fmt.Sprintf("worker executable not found at '%s'", path),
		HTTPStatus: http.StatusFailedDependency,
	}
}

// BuildFailed creates the error returned when the worker build step fails.
// diagnostic carries the captured build output.
func BuildFailed(diagnostic string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeBuildFailed,
		Message:    fmt.Sprintf("worker build failed: %s", diagnostic),
		HTTPStatus: http.StatusFailedDependency,
		Err:        err,
	}
}

// BuildTimeout creates the error returned when the worker build step exceeds
// its timeout.
func BuildTimeout(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBuildTimeout,
		Message:    message,
		HTTPStatus: http.StatusFailedDependency,
	}
}

// ProcessFailed creates the error for a worker that exited non-zero.
func ProcessFailed(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeProcessFailed,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// StatusQuery creates the single opaque error carried by a failed repository
// status query. Partial statuses are never returned alongside it.
func StatusQuery(diagnostic string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeStatusQuery,
		Message:    fmt.Sprintf("repository status query failed: %s", diagnostic),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// PublishStep creates the error for a failed publish step, tagged with the
// step that failed (identity, add, commit, push).
func PublishStep(step, diagnostic string, err error) *AppError {
	return &AppError{
		Code:       ErrCodePublish,
		Message:    fmt.Sprintf("publish failed at step '%s': %s", step, diagnostic),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode checks whether the error is an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound)
}

// IsAlreadyRunning checks if the error reports an active session.
func IsAlreadyRunning(err error) bool {
	return IsCode(err, ErrCodeAlreadyRunning)
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
