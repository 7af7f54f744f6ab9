package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Session lifecycle
	ErrCodeQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeAlreadyConnected    ErrorCode = "ALREADY_CONNECTED"
	ErrCodeAlreadyPairing      ErrorCode = "ALREADY_PAIRING"
	ErrCodeAdapterOpenFailed   ErrorCode = "ADAPTER_OPEN_FAILED"
	ErrCodeAuthFailed          ErrorCode = "AUTH_FAILED"
	ErrCodeSessionBusy         ErrorCode = "SESSION_BUSY"
	ErrCodeSessionNotConnected ErrorCode = "SESSION_NOT_CONNECTED"
	ErrCodeInvalidPayload      ErrorCode = "INVALID_PAYLOAD"

	// Messaging
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeDeliveryFailed    ErrorCode = "DELIVERY_FAILED"

	// Internal
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase           ErrorCode = "DATABASE_ERROR"
	ErrCodeDurableWriteFailed ErrorCode = "DURABLE_WRITE_FAILED"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	cause     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

// QuotaDetails is attached to QUOTA_EXCEEDED errors.
type QuotaDetails struct {
	Plan  string `json:"plan"`
	Limit int    `json:"limit"`
	Used  int    `json:"used"`
}

func QuotaExceeded(plan string, limit, used int) *AppError {
	return New(ErrCodeQuotaExceeded, fmt.Sprintf("Plan %q allows at most %d sessions", plan, limit)).
		WithDetails(QuotaDetails{Plan: plan, Limit: limit, Used: used})
}

func AlreadyConnected() *AppError {
	return New(ErrCodeAlreadyConnected, "Session is already connected")
}

func AlreadyPairing() *AppError {
	return New(ErrCodeAlreadyPairing, "Session pairing is already in progress")
}

func AdapterOpenFailed(cause error) *AppError {
	e := Wrap(ErrCodeAdapterOpenFailed, "Failed to open device connection", cause)
	e.Retryable = true
	return e
}

func AuthFailed(reason string) *AppError {
	return New(ErrCodeAuthFailed, fmt.Sprintf("Pairing rejected: %s", reason))
}

func SessionBusy() *AppError {
	e := New(ErrCodeSessionBusy, "Too many sessions are pairing right now, try again shortly")
	e.Retryable = true
	return e
}

func SessionNotConnected() *AppError {
	return New(ErrCodeSessionNotConnected, "Session is not connected")
}

func InvalidPayload(reason string) *AppError {
	return New(ErrCodeInvalidPayload, fmt.Sprintf("Invalid pairing payload: %s", reason))
}

// RateLimitDetails is attached to RATE_LIMIT_EXCEEDED errors.
type RateLimitDetails struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

func RateLimitExceeded(limit, remaining int, resetAt time.Time) *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded").
		WithDetails(RateLimitDetails{Limit: limit, Remaining: remaining, ResetAt: resetAt})
}

func DeliveryFailed(cause error) *AppError {
	return Wrap(ErrCodeDeliveryFailed, "Message delivery failed", cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func DurableWriteFailed(cause error) *AppError {
	return Wrap(ErrCodeDurableWriteFailed, "Durable session write failed", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}
