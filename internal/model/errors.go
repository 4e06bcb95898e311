package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the error taxonomy surfaced to callers. Repositories return
// *Error values carrying a kind; the HTTP boundary maps kinds to status codes.
type ErrorKind string

const (
	KindValidation          ErrorKind = "VALIDATION_ERROR"
	KindUnauthorized        ErrorKind = "UNAUTHORIZED"
	KindForbidden           ErrorKind = "FORBIDDEN"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindConflict            ErrorKind = "CONFLICT"
	KindInvalidTransition   ErrorKind = "INVALID_TRANSITION"
	KindRateLimited         ErrorKind = "RATE_LIMITED"
	KindExternalUnavailable ErrorKind = "EXTERNAL_SERVICE_UNAVAILABLE"
	KindInternal            ErrorKind = "INTERNAL_ERROR"
)

// Error is a domain error with a kind. It wraps an optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs a domain error with a formatted message.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, defaulting to KindInternal for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message for err. Unclassified errors get
// a generic message so internal details never leak to clients.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal server error"
}
