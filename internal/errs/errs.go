package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind sentinels. Every error produced by the core wraps exactly one of them.
var (
	ErrValidation = errors.New("validation failed")
	ErrPermission = errors.New("permission denied")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage failure")

	// ErrUnauthenticated is a permission failure for anonymous callers
	ErrUnauthenticated = fmt.Errorf("authentication required: %w", ErrPermission)
)

// Error carries a kind, a human-actionable message and the underlying cause
type Error struct {
	kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.kind, e.Cause}
	}
	return []error{e.kind}
}

// Kind returns the sentinel this error was built with
func (e *Error) Kind() error {
	return e.kind
}

func newf(kind error, format string, args ...any) *Error {
	return &Error{kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(ErrValidation, format, args...)
}

func Permission(format string, args ...any) *Error {
	return newf(ErrPermission, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return newf(ErrUnauthenticated, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(ErrConflict, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(ErrNotFound, format, args...)
}

// Storage wraps a failed write or delete against the asset store
func Storage(cause error, format string, args ...any) *Error {
	e := newf(ErrStorage, format, args...)
	e.Cause = cause
	return e
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsPermission(err error) bool { return errors.Is(err, ErrPermission) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsStorage(err error) bool    { return errors.Is(err, ErrStorage) }

// StatusCode maps an error kind onto the HTTP status the handlers answer with
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
