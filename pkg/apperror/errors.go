package apperror

import (
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

// ---- Payment Business Logic (PAY) ----

// Codes the transaction engine branches on to classify business failures.
const (
	CodeInsufficientFunds     = "PAY_001"
	CodeTargetUnavailable     = "PAY_002"
	CodeOverpaymentNotAllowed = "PAY_003"
)

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrTargetUnavailable(detail string) *AppError {
	return New(CodeTargetUnavailable, fmt.Sprintf("Transaction target unavailable: %s", detail), http.StatusUnprocessableEntity)
}

func ErrOverpaymentNotAllowed() *AppError {
	return New(CodeOverpaymentNotAllowed, "Payment exceeds the debt's remaining balance", http.StatusUnprocessableEntity)
}

func ErrIdempotencyConflict() *AppError {
	return New("PAY_004", "Idempotency key already used with a different payload", http.StatusConflict)
}

func ErrPaymentDeclined() *AppError {
	return New("PAY_005", "Payment method was declined", http.StatusPaymentRequired)
}

func ErrReservationReleased() *AppError {
	return New("PAY_006", "Reservation has already been released", http.StatusConflict)
}

// ---- Meters & Debts (MTR) ----

func ErrDuplicateMeter() *AppError {
	return New("MTR_001", "Meter number is already registered", http.StatusConflict)
}

func ErrMeterInactive() *AppError {
	return New("MTR_002", "Meter is deactivated", http.StatusUnprocessableEntity)
}

// ---- Generic resources (RES) ----

func ErrNotFound(entity string) *AppError {
	return New("RES_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrUsernameExists() *AppError {
	return New("AUTH_002", "Username already exists", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a VAL_001 validation error with a caller-supplied message.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}
