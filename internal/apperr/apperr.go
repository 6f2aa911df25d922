// Package apperr defines the typed failures every component returns.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindRateLimited
	KindUpstream
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error carries a user-facing message plus the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) error {
	return newError(KindValidation, message, nil)
}

func NotFound(message string) error {
	return newError(KindNotFound, message, nil)
}

func RateLimited(message string) error {
	return newError(KindRateLimited, message, nil)
}

// Upstream wraps a failure of the AI service, the SMTP relay or the store.
// message is what the caller sees; err is kept for logs.
func Upstream(message string, err error) error {
	return newError(KindUpstream, message, err)
}

func Configuration(message string) error {
	return newError(KindConfiguration, message, nil)
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the user-facing message of err, or fallback when err is
// not an *Error.
func MessageOf(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}
