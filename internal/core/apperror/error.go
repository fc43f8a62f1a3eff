// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes grouped by taxonomy (see error handling design)
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeEmptyLines   = "EMPTY_LINES"
	CodeInvalidInput = "INVALID_INPUT"

	// Invariant violations (422)
	CodeBusinessRule        = "BUSINESS_RULE_VIOLATION"
	CodeOverApproval        = "OVER_APPROVAL"
	CodeExceedsApproved     = "EXCEEDS_APPROVED"
	CodeOverReceipt         = "OVER_RECEIPT"
	CodeInsufficientPending = "INSUFFICIENT_PENDING"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeMissingSerial       = "MISSING_SERIAL"
	CodeDataIntegrity       = "DATA_INTEGRITY"

	// Terminal-state violations (422)
	CodeDocumentClosed = "DOCUMENT_CLOSED"
	CodeNotPending     = "NOT_PENDING"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeAuthDenied   = "AUTH_DENIED"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409) - retryable by re-fetching current state
	CodeConflict               = "CONFLICT"
	CodeDuplicateSerial        = "DUPLICATE_SERIAL"
	CodeStalePending           = "STALE_PENDING"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
)

// AppError is the standard error type for the service.
// It implements the error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (offending line, computed ceiling, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewEmptyLines is returned when a document is submitted without line items.
func NewEmptyLines(entity string) *AppError {
	return &AppError{
		Code:       CodeEmptyLines,
		Message:    "at least one line is required",
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"entity": entity},
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates an invariant violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewOverApproval is returned when an approved quantity exceeds the requested one.
func NewOverApproval(lineID string, requested, approved string) *AppError {
	return &AppError{
		Code:       CodeOverApproval,
		Message:    "approved quantity exceeds requested quantity",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"line_id":   lineID,
			"requested": requested,
			"approved":  approved,
		},
	}
}

// NewExceedsApproved is returned when an order line exceeds the remaining
// approved quantity of its source request line.
func NewExceedsApproved(lineID string, ceiling, wanted string) *AppError {
	return &AppError{
		Code:       CodeExceedsApproved,
		Message:    "ordered quantity exceeds remaining approved quantity",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"line_id": lineID,
			"ceiling": ceiling,
			"wanted":  wanted,
		},
	}
}

// NewOverReceipt is returned when cumulative received quantity would exceed
// the ordered quantity of an order line.
func NewOverReceipt(orderLineID string, ordered, received, wanted string) *AppError {
	return &AppError{
		Code:       CodeOverReceipt,
		Message:    "received quantity exceeds ordered quantity",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"order_line_id": orderLineID,
			"ordered":       ordered,
			"received":      received,
			"wanted":        wanted,
		},
	}
}

// NewInsufficientPending is returned when a dispatch would push the dispatched
// quantity of a request line past its approved quantity.
func NewInsufficientPending(lineID string, pending, wanted string) *AppError {
	return &AppError{
		Code:       CodeInsufficientPending,
		Message:    "dispatch quantity exceeds pending quantity",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"line_id": lineID,
			"pending": pending,
			"wanted":  wanted,
		},
	}
}

// NewInsufficientStock creates a stock shortage error
func NewInsufficientStock(itemID string, requested, available string) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"item_id":   itemID,
			"requested": requested,
			"available": available,
		},
	}
}

// NewMissingSerial is returned when a serialized asset line lacks a serial number.
func NewMissingSerial(lineID string) *AppError {
	return &AppError{
		Code:       CodeMissingSerial,
		Message:    "serialized asset line requires a serial number",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"line_id": lineID},
	}
}

// NewDuplicateSerial is returned when a serial number is already registered.
func NewDuplicateSerial(serial string) *AppError {
	return &AppError{
		Code:       CodeDuplicateSerial,
		Message:    "serial number already registered",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"serial": serial},
	}
}

// NewDataIntegrity flags a pre-existing inconsistency found during reconciliation.
// The affected record must be marked read-only pending manual reconciliation.
func NewDataIntegrity(entity string, id any, message string) *AppError {
	return &AppError{
		Code:       CodeDataIntegrity,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewDocumentClosed is returned on mutation attempts against terminal documents.
func NewDocumentClosed(entity string, id any, state string) *AppError {
	return &AppError{
		Code:       CodeDocumentClosed,
		Message:    "document is in a terminal state and cannot be modified",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"entity": entity, "id": id, "state": state},
	}
}

// NewNotPending is returned when approval is attempted outside the PENDING state.
func NewNotPending(id any, state string) *AppError {
	return &AppError{
		Code:       CodeNotPending,
		Message:    "request is not pending approval",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"id": id, "state": state},
	}
}

// NewStalePending is returned when pending quantities changed between selection
// and commit of a batch operation. The caller must re-fetch and retry.
func NewStalePending(requestID any) *AppError {
	return &AppError{
		Code:       CodeStalePending,
		Message:    "pending quantities changed since selection; re-fetch and retry",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"request_id": requestID},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "record was modified concurrently; refresh and try again",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewAuthDenied is returned when the authorization gate rejects a credential.
func NewAuthDenied(responsible string) *AppError {
	return &AppError{
		Code:       CodeAuthDenied,
		Message:    "authorization gate denied the credential",
		HTTPStatus: http.StatusForbidden,
		Details:    map[string]any{"responsible": responsible},
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode checks if error carries a specific code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return HasCode(err, CodeConcurrentModification)
}

// IsRetryable reports whether the caller may retry after re-fetching state.
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		switch appErr.Code {
		case CodeConcurrentModification, CodeStalePending, CodeConflict:
			return true
		}
	}
	return false
}
