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

// ---- Payment Lifecycle (PAY) ----

func ErrInvalidAmount(detail string) *AppError {
	return New("PAY_001", fmt.Sprintf("Invalid amount: %s", detail), http.StatusBadRequest)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New("PAY_002", fmt.Sprintf("Invalid transition from %s to %s", from, to), http.StatusConflict)
}

func ErrInvalidState(detail string) *AppError {
	return New("PAY_003", detail, http.StatusConflict)
}

func ErrDuplicateSession(sessionID string) *AppError {
	return New("PAY_004", fmt.Sprintf("Session %s already exists", sessionID), http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_005", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvalidSplits(detail string) *AppError {
	return New("PAY_006", fmt.Sprintf("Invalid splits: %s", detail), http.StatusBadRequest)
}

func ErrRefundWindowClosed() *AppError {
	return New("PAY_007", "Refund window has closed", http.StatusConflict)
}

// ---- Escrow (ESC) ----

func ErrPriceUnavailable(err error) *AppError {
	return Wrap("ESC_001", "Price oracle unavailable", http.StatusServiceUnavailable, err)
}

func ErrDisputeUnresolved() *AppError {
	return New("ESC_002", "Escrow is disputed and awaiting manual resolution", http.StatusConflict)
}

func ErrDisputeWindowClosed() *AppError {
	return New("ESC_003", "Dispute window has closed", http.StatusConflict)
}

func ErrNotArbiter() *AppError {
	return New("ESC_004", "Caller is not authorized to resolve disputes", http.StatusForbidden)
}

// ---- Webhooks (WHK) ----

func ErrWebhookDeliveryFailed(err error) *AppError {
	return Wrap("WHK_001", "Webhook delivery failed", http.StatusBadGateway, err)
}

func ErrWebhookPermanentlyFailed() *AppError {
	return New("WHK_002", "Webhook delivery permanently failed", http.StatusGone)
}

// ---- Security & Authentication (SEC) ----

func ErrInvalidAccessKey() *AppError {
	return New("SEC_001", "Invalid access key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
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

func ErrMerchantSuspended() *AppError {
	return New("AUTH_004", "Merchant account is suspended", http.StatusForbidden)
}

// ---- Affiliates (AFF) ----

func ErrReferralCodeExists() *AppError {
	return New("AFF_001", "Referral code already registered", http.StatusConflict)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrChainUnavailable(err error) *AppError {
	return Wrap("SYS_002", "Settlement layer unavailable", http.StatusServiceUnavailable, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error. It carries its own code so
// malformed input is distinguishable from domain rejections like PAY_001.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}
