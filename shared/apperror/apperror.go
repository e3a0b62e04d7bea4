// Package apperror defines the error taxonomy shared by the API service,
// the worker service and the client SDK.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an application error
type Kind int

const (
	// KindUnexpected covers every failure that is not one of the kinds below
	KindUnexpected Kind = iota
	// KindValidation is a malformed request body or field
	KindValidation
	// KindAuthentication is a bad credential or an expired/invalid token
	KindAuthentication
	// KindNotFound is a missing entity or an unknown queue name
	KindNotFound
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	default:
		return "unexpected"
	}
}

// Error is a classified application error
type Error struct {
	Kind    Kind
	Message string
	Field   string // set for validation errors
	Err     error  // underlying error, if any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so that errors.Is(err, ErrNotFound) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinel values for errors.Is checks
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrUnexpected     = &Error{Kind: KindUnexpected}
)

// Validation creates a validation error for a field
func Validation(field, message string) error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// Authentication creates an authentication error
func Authentication(message string) error {
	return &Error{Kind: KindAuthentication, Message: message}
}

// NotFound creates a not-found error
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NotFoundf creates a not-found error with a formatted message
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unexpected wraps err as an unexpected error
func Unexpected(message string, err error) error {
	return &Error{Kind: KindUnexpected, Message: message, Err: err}
}

// KindOf returns the kind of err; errors outside the taxonomy are unexpected
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnexpected
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsAuthentication reports whether err is an authentication error
func IsAuthentication(err error) bool {
	return err != nil && KindOf(err) == KindAuthentication
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}
