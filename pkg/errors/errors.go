package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, ErrDecryption) matches any decryption failure regardless of detail.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Error codes
const (
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeUnsupportedMedia = "unsupported_media_type"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternalError    = "internal_error"
	ErrCodeNotInitialized   = "not_initialized"
	ErrCodeDecryptionFailed = "decryption_failed"
	ErrCodeInvalidAccount   = "invalid_account"
	ErrCodeIllegalState     = "illegal_state"
	ErrCodeWalletExists     = "wallet_exists"
	ErrCodeRequestPending   = "request_pending"
	ErrCodeRequestNotFound  = "request_not_found"
	ErrCodeRequestExpired   = "expired"
	ErrCodeCorruptedStorage = "corrupted_storage"
	ErrCodeDeliveryFailed   = "delivery_failed"
	ErrCodeNotFound         = "not_found"
)

// Predefined errors. They double as errors.Is targets.
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       ErrCodeForbidden,
		Message:    "Access denied",
		StatusCode: http.StatusForbidden,
	}

	ErrUnsupportedMediaType = &AppError{
		Code:       ErrCodeUnsupportedMedia,
		Message:    "Request body must be application/json",
		StatusCode: http.StatusUnsupportedMediaType,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrNotInitialized is returned when no wallet has been installed yet.
	ErrNotInitialized = &AppError{
		Code:       ErrCodeNotInitialized,
		Message:    "No wallet installed",
		StatusCode: http.StatusNotFound,
	}

	// ErrDecryption covers both a wrong password and a tampered record.
	// The message is identical for both on purpose.
	ErrDecryption = &AppError{
		Code:       ErrCodeDecryptionFailed,
		Message:    "Invalid password",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidAccount = &AppError{
		Code:       ErrCodeInvalidAccount,
		Message:    "Unknown account",
		StatusCode: http.StatusBadRequest,
	}

	ErrIllegalState = &AppError{
		Code:       ErrCodeIllegalState,
		Message:    "Operation not allowed in current session state",
		StatusCode: http.StatusConflict,
	}

	ErrWalletExists = &AppError{
		Code:       ErrCodeWalletExists,
		Message:    "A wallet is already installed",
		StatusCode: http.StatusConflict,
	}

	ErrRequestPending = &AppError{
		Code:       ErrCodeRequestPending,
		Message:    "Another request is awaiting approval",
		StatusCode: http.StatusConflict,
	}

	ErrRequestNotFound = &AppError{
		Code:       ErrCodeRequestNotFound,
		Message:    "Client request not found",
		StatusCode: http.StatusNotFound,
	}

	ErrRequestExpired = &AppError{
		Code:       ErrCodeRequestExpired,
		Message:    "Client request expired before a decision was made",
		StatusCode: http.StatusGone,
	}

	// ErrCorruptedStorage is surfaced with a generic message; the detail stays in logs.
	ErrCorruptedStorage = &AppError{
		Code:       ErrCodeCorruptedStorage,
		Message:    "Wallet storage could not be read",
		StatusCode: http.StatusInternalServerError,
	}

	ErrDeliveryFailed = &AppError{
		Code:       ErrCodeDeliveryFailed,
		Message:    "Decision could not be delivered to the requesting page",
		StatusCode: http.StatusBadGateway,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// BadRequest creates a bad request error with detail
func BadRequest(detail string) *AppError {
	return NewWithDetail(ErrCodeBadRequest, ErrBadRequest.Message, detail, http.StatusBadRequest)
}

// InvalidAccountReference creates an error for an account id that is not in the wallet
func InvalidAccountReference(accountID string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidAccount,
		Message:    ErrInvalidAccount.Message,
		Detail:     fmt.Sprintf("account_id: %s", accountID),
		StatusCode: http.StatusBadRequest,
	}
}

// IllegalState creates an illegal state error naming the current state
func IllegalState(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeIllegalState,
		Message:    ErrIllegalState.Message,
		Detail:     detail,
		StatusCode: http.StatusConflict,
	}
}

// RequestNotFound creates a request not found error
func RequestNotFound(requestID string) *AppError {
	return &AppError{
		Code:       ErrCodeRequestNotFound,
		Message:    ErrRequestNotFound.Message,
		Detail:     fmt.Sprintf("request_id: %s", requestID),
		StatusCode: http.StatusNotFound,
	}
}

// NotFound creates a not found error for a resource other than a request
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Detail:     fmt.Sprintf("id: %s", id),
		StatusCode: http.StatusNotFound,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
