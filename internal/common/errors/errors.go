// Package errors provides custom error types for the Kandev application.
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
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Core taxonomy additions (SPEC_FULL.md §7).
	ErrCodeCapacityExceeded      = "CAPACITY_EXCEEDED"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeAgentBusy             = "AGENT_BUSY"
	ErrCodeAgentUnavailable      = "AGENT_UNAVAILABLE"
	ErrCodeBackpressure          = "BACKPRESSURE"
	ErrCodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
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

// Unauthorized creates a new unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a new forbidden error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:       ErrCodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
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

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// CapacityExceeded creates an error for a resource that has hit its cap
// (agent cap, task-table cap, bounded channel).
func CapacityExceeded(resource string) *AppError {
	return &AppError{
		Code:       ErrCodeCapacityExceeded,
		Message:    fmt.Sprintf("capacity exceeded for '%s'", resource),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Timeout creates an error for a deadline expiry on the named operation.
func Timeout(operation string) *AppError {
	return &AppError{
		Code:       ErrCodeTimeout,
		Message:    fmt.Sprintf("operation '%s' timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// AgentBusy creates an error for a per-agent serialisation violation: a
// second send arrived while the agent was still mid-response.
func AgentBusy(agentID string) *AppError {
	return &AppError{
		Code:       ErrCodeAgentBusy,
		Message:    fmt.Sprintf("agent '%s' is busy", agentID),
		HTTPStatus: http.StatusConflict,
	}
}

// AgentUnavailable creates an error for an agent that is not in the Ready state.
func AgentUnavailable(agentID, state string) *AppError {
	return &AppError{
		Code:       ErrCodeAgentUnavailable,
		Message:    fmt.Sprintf("agent '%s' is not ready (state=%s)", agentID, state),
		HTTPStatus: http.StatusConflict,
	}
}

// NoAgentAvailable creates an error for a role with no eligible agent and
// spawn-on-demand disabled.
func NoAgentAvailable(role string) *AppError {
	return &AppError{
		Code:       ErrCodeAgentUnavailable,
		Message:    fmt.Sprintf("no agent available for role '%s'", role),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Backpressure creates an error for a bounded channel that is full.
func Backpressure(target string) *AppError {
	return &AppError{
		Code:       ErrCodeBackpressure,
		Message:    fmt.Sprintf("backpressure on '%s'", target),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// DependencyUnavailable creates an error for an external store that is down.
// Many callers treat this as recoverable and continue in degraded mode.
func DependencyUnavailable(name string) *AppError {
	return &AppError{
		Code:       ErrCodeDependencyUnavailable,
		Message:    fmt.Sprintf("dependency '%s' is unavailable", name),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Unauthenticated creates an error for a pre-registration APS method call or
// a façade rejection.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthenticated,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// IsDependencyUnavailable reports whether err is a recoverable degraded-mode error.
func IsDependencyUnavailable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeDependencyUnavailable
	}
	return false
}

// IsTimeout reports whether err is a Timeout error.
func IsTimeout(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeTimeout
	}
	return false
}

// IsBackpressure reports whether err is a Backpressure error.
func IsBackpressure(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBackpressure
	}
	return false
}

// IsAgentBusy reports whether err is an AgentBusy error.
func IsAgentBusy(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeAgentBusy
	}
	return false
}

// IsAgentUnavailable reports whether err is an AgentUnavailable error.
func IsAgentUnavailable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeAgentUnavailable
	}
	return false
}

// IsCapacityExceeded reports whether err is a CapacityExceeded error.
func IsCapacityExceeded(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeCapacityExceeded
	}
	return false
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

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsBadRequest checks if the error is a bad request error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBadRequest || appErr.Code == ErrCodeValidationError
	}
	return false
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

