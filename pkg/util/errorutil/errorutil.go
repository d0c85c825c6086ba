package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes shared by the bridge core and the admin API.
const (
	CodeTransientPlatform = "TRANSIENT_PLATFORM_ERROR"
	CodeFatalPlatform     = "FATAL_PLATFORM_ERROR"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotFound          = "NOT_FOUND"
	CodeCategoryNotFound  = "CATEGORY_NOT_FOUND"
	CodePersistence       = "PERSISTENCE_ERROR"
	CodeValidation        = "VALIDATION_FAILED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeInternal          = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

// NewCategoryNotFound reports an unknown ticket category.
func NewCategoryNotFound(categoryID string) error {
	return &DomainError{
		Code:       CodeCategoryNotFound,
		Message:    "category not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"category_id": categoryID},
	}
}

// NewInvalidTransition rejects a ticket status change. Details always carry
// the status the ticket is actually in.
func NewInvalidTransition(from, to string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["current_status"] = from
	details["requested_status"] = to
	return &DomainError{
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("invalid transition %s -> %s", from, to),
		HTTPStatus: http.StatusConflict,
		Details:    details,
	}
}

// NewTransientPlatformError wraps a retryable adapter failure.
func NewTransientPlatformError(platform string, err error) error {
	return &DomainError{
		Code:       CodeTransientPlatform,
		Message:    platform + " temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"platform": platform},
		Err:        err,
	}
}

// NewFatalPlatformError wraps an adapter failure that retrying cannot fix.
func NewFatalPlatformError(platform string, err error) error {
	return &DomainError{
		Code:       CodeFatalPlatform,
		Message:    platform + " rejected credentials or permissions",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"platform": platform},
		Err:        err,
	}
}

// NewEscalatedPlatformError marks an adapter permanently unavailable after
// it kept failing transiently.
func NewEscalatedPlatformError(platform string, err error) error {
	return &DomainError{
		Code:       CodeFatalPlatform,
		Message:    platform + " kept failing and was taken offline",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"platform": platform, "escalated": true},
		Err:        err,
	}
}

// NewPersistenceError wraps a datastore failure.
func NewPersistenceError(err error) error {
	return &DomainError{
		Code:       CodePersistence,
		Message:    "datastore unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err carries a DomainError with the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

func IsTransient(err error) bool { return IsCode(err, CodeTransientPlatform) }

func IsFatal(err error) bool { return IsCode(err, CodeFatalPlatform) }

func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound) || IsCode(err, CodeCategoryNotFound)
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
