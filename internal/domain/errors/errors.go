package errors

import (
	"errors"
	"fmt"
)

// Error types for different failure classes
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeBusiness     ErrorType = "business"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
)

// Stable rejection codes surfaced on the command protocol. Clients match on
// these strings, so they never change.
const (
	CodeAuthFailed     = "auth_failed"
	CodeNotLive        = "not_live"
	CodeSellerSelfBid  = "seller_self_bid"
	CodeConsecutive    = "consecutive"
	CodeBelowMinimum   = "below_minimum"
	CodeStorageFailure = "storage_failure"
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
	CodeInvalidAmount  = "invalid_amount"
)

// AppError represents a structured application error
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeBusiness,
		Code:    code,
		Message: message,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Code:    CodeAuthFailed,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeForbidden,
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewConflictError(code, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeInternal,
		Code:      CodeStorageFailure,
		Message:   message,
		Retryable: true,
	}
}

// Predefined rejections used on the hot bid path.
var (
	ErrAuctionNotLive = NewBusinessError(CodeNotLive, "auction is not live")
	ErrSellerSelfBid  = NewBusinessError(CodeSellerSelfBid, "sellers cannot bid on their own auctions")
	ErrConsecutiveBid = NewBusinessError(CodeConsecutive, "another bidder must bid before you can bid again")
	ErrInvalidAmount  = NewValidationError(CodeInvalidAmount, "amount must be a positive decimal with at most two fractional digits")
)

// BelowMinimum builds the below_minimum rejection carrying the minimum the
// bidder must meet.
func BelowMinimum(minimum string) *AppError {
	return NewBusinessError(CodeBelowMinimum, "bid amount is below the minimum increment").
		WithDetails(map[string]interface{}{"minimum_bid": minimum})
}

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// CodeOf extracts the stable rejection code, defaulting to storage_failure
// for untyped errors so clients always receive a known code.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeStorageFailure
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
