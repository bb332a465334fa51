// Package apperror defines the error taxonomy surfaced to API callers.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies a failure for the response envelope.
type Kind int

const (
	// Internal is the catch-all for unexpected failures.
	Internal Kind = iota
	TooLarge
	UnsupportedFormat
	CorruptImage
)

// Code returns the stable machine-readable code for the kind.
func (k Kind) Code() string {
	switch k {
	case TooLarge:
		return "too_large"
	case UnsupportedFormat:
		return "unsupported_format"
	case CorruptImage:
		return "corrupt_image"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps the kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	case UnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case CorruptImage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// UserFacing reports whether the kind describes bad client input rather than
// a server fault.
func (k Kind) UserFacing() bool {
	return k != Internal
}

func (k Kind) String() string {
	return k.Code()
}

// Error carries a Kind, a message safe to show to callers, and the cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperror.ErrTooLarge) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Err == nil && t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrTooLarge          = &Error{Kind: TooLarge}
	ErrUnsupportedFormat = &Error{Kind: UnsupportedFormat}
	ErrCorruptImage      = &Error{Kind: CorruptImage}
	ErrInternal          = &Error{Kind: Internal}
)

// New builds an *Error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the kind from err. Untyped errors are Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "unexpected error while analyzing image"
}
