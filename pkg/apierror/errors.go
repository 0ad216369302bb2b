// Package apierror defines the failure taxonomy shared by every component of
// the access layer. Skills branch on Kind instead of per-API error types.
package apierror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindConfig         Kind = "config"
	KindAuth           Kind = "auth"
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindRequest        Kind = "request"
	KindResponse       Kind = "response"
	KindTimeout        Kind = "timeout"
)

func (k Kind) String() string { return string(k) }

// Retryable reports whether a caller may reasonably retry later. Only
// transient response failures and timeouts qualify.
func (k Kind) Retryable() bool {
	return k == KindResponse || k == KindTimeout
}

// Sentinels for errors.Is checks. Matching is by Kind only.
var (
	ErrConfig         = &Error{Kind: KindConfig}
	ErrAuth           = &Error{Kind: KindAuth}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrRequest        = &Error{Kind: KindRequest}
	ErrResponse       = &Error{Kind: KindResponse}
	ErrTimeout        = &Error{Kind: KindTimeout}
)

// Error is the single error type surfaced by the access layer. Message and
// Err must never carry secret material.
type Error struct {
	Kind     Kind
	Message  string
	Status   int
	Attempts int
	Err      error
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithStatus returns a copy carrying the HTTP status.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

// WithAttempts returns a copy carrying the number of attempts made.
func (e *Error) WithAttempts(n int) *Error {
	cp := *e
	cp.Attempts = n
	return &cp
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so callers can use the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind from err, or "" when err is not an access layer
// error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf returns the HTTP status recorded on err, if any.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// As converts err into an *Error, wrapping foreign errors with fallback.
func As(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: fallback, Message: "unexpected failure", Err: err}
}
