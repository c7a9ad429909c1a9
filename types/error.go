package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Scheduling error codes
const (
	ErrCapabilityNotFound ErrorCode = "CAPABILITY_NOT_FOUND"
	ErrNoAvailableAgent   ErrorCode = "NO_AVAILABLE_AGENT"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrDispatchError      ErrorCode = "DISPATCH_ERROR"
	ErrInvalidStrategy    ErrorCode = "INVALID_STRATEGY"
	ErrQueueFull          ErrorCode = "QUEUE_FULL"
	ErrEngineStopped      ErrorCode = "ENGINE_STOPPED"
)

// Task error codes
const (
	ErrInvalidTask     ErrorCode = "INVALID_TASK"
	ErrDuplicateTask   ErrorCode = "DUPLICATE_TASK"
	ErrDuplicateResult ErrorCode = "DUPLICATE_RESULT"
	ErrTaskNotFound    ErrorCode = "TASK_NOT_FOUND"
)

// Agent error codes
const (
	ErrAgentNotFound ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentExcluded ErrorCode = "AGENT_EXCLUDED"
)

// Generic error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// defaultStatus maps codes to the HTTP status used when none is set explicitly.
var defaultStatus = map[ErrorCode]int{
	ErrCapabilityNotFound: http.StatusNotFound,
	ErrNoAvailableAgent:   http.StatusServiceUnavailable,
	ErrTimeout:            http.StatusGatewayTimeout,
	ErrDispatchError:      http.StatusBadGateway,
	ErrInvalidStrategy:    http.StatusBadRequest,
	ErrQueueFull:          http.StatusServiceUnavailable,
	ErrEngineStopped:      http.StatusServiceUnavailable,
	ErrInvalidTask:        http.StatusBadRequest,
	ErrDuplicateTask:      http.StatusConflict,
	ErrDuplicateResult:    http.StatusConflict,
	ErrTaskNotFound:       http.StatusNotFound,
	ErrAgentNotFound:      http.StatusNotFound,
	ErrAgentExcluded:      http.StatusConflict,
	ErrInvalidRequest:     http.StatusBadRequest,
	ErrUnauthorized:       http.StatusUnauthorized,
	ErrRateLimited:        http.StatusTooManyRequests,
	ErrInternalError:      http.StatusInternalServerError,
}

// retryableCodes are failures a caller may retry with its own backoff.
var retryableCodes = map[ErrorCode]bool{
	ErrNoAvailableAgent: true,
	ErrTimeout:          true,
	ErrDispatchError:    true,
	ErrQueueFull:        true,
	ErrRateLimited:      true,
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	AgentID    string    `json:"agent_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
// HTTP status and retryability default from the code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: defaultStatus[code],
		Retryable:  retryableCodes[code],
	}
}

// Errorf is NewError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgent sets the agent the error relates to.
func (e *Error) WithAgent(agentID string) *Error {
	e.AgentID = agentID
	return e
}

// AsError extracts a *Error from anywhere in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// HTTPStatusOf returns the HTTP status for err, falling back to 500.
func HTTPStatusOf(err error) int {
	if e, ok := AsError(err); ok && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
