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

// ---- Signature & Integrity (SIG) ----

func ErrInvalidSignature() *AppError {
	return New("SIG_001", "Invalid webhook signature", http.StatusBadRequest)
}

// ---- Validation (VAL) ----

func ErrMalformedPayload(detail string) *AppError {
	return New("VAL_001", fmt.Sprintf("Malformed payload: %s", detail), http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_002", "Invalid amount", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("VAL_003", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// Validation returns a VAL_001-style validation error with a custom message.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

// ---- Business Rules (BIZ) ----

func ErrInvalidTransition(from, to string) *AppError {
	return New("BIZ_001", fmt.Sprintf("Illegal order transition %s -> %s", from, to), http.StatusConflict)
}

func ErrRefundExceedsTotal() *AppError {
	return New("BIZ_002", "Refund amount exceeds order total", http.StatusBadRequest)
}

func ErrOrderNotRefundable(status string) *AppError {
	return New("BIZ_003", fmt.Sprintf("Order in status %s is not eligible for refund", status), http.StatusUnprocessableEntity)
}

func ErrRefundAlreadyExists() *AppError {
	return New("BIZ_004", "An active refund already exists for this order", http.StatusConflict)
}

func ErrApprovalRequired() *AppError {
	return New("BIZ_005", "Refund requires approval by a second actor", http.StatusUnprocessableEntity)
}

func ErrSameActorApproval() *AppError {
	return New("BIZ_006", "Refund approver must differ from requester", http.StatusForbidden)
}

func ErrNotActionable(entity, status string) *AppError {
	return New("BIZ_007", fmt.Sprintf("%s in status %s cannot be processed", entity, status), http.StatusConflict)
}

// ---- External Providers (PRV) ----

func ErrProviderTransient(err error) *AppError {
	return Wrap("PRV_001", "Provider temporarily unavailable", http.StatusBadGateway, err)
}

func ErrProviderDeclined(reason string) *AppError {
	return New("PRV_002", fmt.Sprintf("Provider declined: %s", reason), http.StatusUnprocessableEntity)
}

// ---- Operator Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
