package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ---- Schedules (SCH) ----

func ErrInvalidSchedule(message string) *AppError {
	return New("SCH_001", message, http.StatusBadRequest)
}

func ErrScheduleNotFound() *AppError {
	return New("SCH_002", "Schedule not found", http.StatusNotFound)
}

func ErrScheduleExists() *AppError {
	return New("SCH_003", "Schedule already exists for this project", http.StatusConflict)
}

// ---- Webhooks & deliveries (WH) ----

func ErrInvalidWebhook(message string) *AppError {
	return New("WH_001", message, http.StatusBadRequest)
}

func ErrWebhookNotFound() *AppError {
	return New("WH_002", "Webhook not found", http.StatusNotFound)
}

func ErrDeliveryNotFound() *AppError {
	return New("WH_003", "Delivery not found", http.StatusNotFound)
}

func ErrDeliveryNotRetryable() *AppError {
	return New("WH_004", "Only failed deliveries can be retried", http.StatusConflict)
}

// ---- Job triggering (JOB) ----

func ErrNoActiveTargets() *AppError {
	return New("JOB_001", "Project has no active targets", http.StatusUnprocessableEntity)
}

func ErrJobAlreadyRunning() *AppError {
	return New("JOB_002", "A job is already running for this project", http.StatusConflict)
}

func ErrTriggerFailed(err error) *AppError {
	return Wrap("JOB_003", "Failed to start job", http.StatusBadGateway, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrDependencyUnavailable(err error) *AppError {
	return Wrap("SYS_002", "Dependency unavailable", http.StatusServiceUnavailable, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a generic request validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}
