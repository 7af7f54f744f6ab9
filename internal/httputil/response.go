package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error     string              `json:"error"`
	Code      apperrors.ErrorCode `json:"code"`
	Details   any                 `json:"details,omitempty"`
	Retryable bool                `json:"retryable,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		// Wrap unknown errors as internal errors
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	if d, ok := appErr.Details.(apperrors.RateLimitDetails); ok {
		secs := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	WriteErrorWithStatus(w, StatusFromCode(appErr.Code), appErr)
}

// WriteErrorWithStatus writes an error with a specific HTTP status code
func WriteErrorWithStatus(w http.ResponseWriter, status int, err *apperrors.AppError) {
	response := ErrorResponse{
		Error:     err.Message,
		Code:      err.Code,
		Details:   err.Details,
		Retryable: err.Retryable,
	}
	WriteJSON(w, status, response)
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired:
		return http.StatusBadRequest

	// 401 Unauthorized
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized

	// 403 Forbidden
	case apperrors.ErrCodeForbidden,
		apperrors.ErrCodeQuotaExceeded:
		return http.StatusForbidden

	// 404 Not Found
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case apperrors.ErrCodeAlreadyConnected,
		apperrors.ErrCodeAlreadyPairing,
		apperrors.ErrCodeSessionNotConnected:
		return http.StatusConflict

	// 422 Unprocessable Entity
	case apperrors.ErrCodeAuthFailed,
		apperrors.ErrCodeInvalidPayload:
		return http.StatusUnprocessableEntity

	// 429 Too Many Requests
	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 502 Bad Gateway
	case apperrors.ErrCodeAdapterOpenFailed,
		apperrors.ErrCodeDeliveryFailed:
		return http.StatusBadGateway

	// 503 Service Unavailable
	case apperrors.ErrCodeSessionBusy:
		return http.StatusServiceUnavailable

	// 500 Internal Server Error
	case apperrors.ErrCodeInternal,
		apperrors.ErrCodeDatabase,
		apperrors.ErrCodeDurableWriteFailed:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
