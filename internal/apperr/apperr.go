// Package apperr defines the error taxonomy shared by the auth core, the chat
// service and the realtime transport. Every error that leaves a service is an
// *Error so the transport can render a structured reply instead of dropping
// the connection.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for the client.
type Kind int

const (
	Internal Kind = iota
	Validation
	NotAuthenticated
	AuthConflict
	QuotaExhausted
	Upstream
	NotFound
	Invalid
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation_error"
	case NotAuthenticated:
		return "not_authenticated"
	case AuthConflict:
		return "auth_conflict"
	case QuotaExhausted:
		return "quota_exhausted"
	case Upstream:
		return "upstream_failure"
	case NotFound:
		return "not_found"
	case Invalid:
		return "invalid"
	default:
		return "internal_error"
	}
}

// Status returns the response status carried in reply frames for the kind.
func (k Kind) Status() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case NotAuthenticated:
		return http.StatusUnauthorized
	case AuthConflict:
		return http.StatusConflict
	case QuotaExhausted:
		return http.StatusTooManyRequests
	case Upstream:
		return http.StatusServiceUnavailable
	case NotFound:
		return http.StatusNotFound
	case Invalid:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is the canonical service error.
//
// Cause is for server-side logging only and is never rendered to clients.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// Data carries structured details for the client, e.g. the quota reset time.
	Data map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind, so callers can test
// errors.Is(err, apperr.ErrNotFound) style sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation       = &Error{Kind: Validation}
	ErrNotAuthenticated = &Error{Kind: NotAuthenticated}
	ErrAuthConflict     = &Error{Kind: AuthConflict}
	ErrQuotaExhausted   = &Error{Kind: QuotaExhausted}
	ErrUpstream         = &Error{Kind: Upstream}
	ErrNotFound         = &Error{Kind: NotFound}
	ErrInvalid          = &Error{Kind: Invalid}
	ErrInternal         = &Error{Kind: Internal}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func ValidationError(msg string) *Error { return New(Validation, msg) }

func Unauthenticated(msg string) *Error { return New(NotAuthenticated, msg) }

func Conflict(msg string) *Error { return New(AuthConflict, msg) }

func NotFoundError(resource string) *Error { return New(NotFound, resource+" not found") }

func InvalidError(msg string) *Error { return New(Invalid, msg) }

func UpstreamError(msg string, cause error) *Error { return Wrap(Upstream, msg, cause) }

// InternalError wraps an unexpected failure such as an unreachable store.
func InternalError(cause error) *Error {
	return Wrap(Internal, "an unexpected error occurred", cause)
}

// Exhausted reports a spent resend quota and when it resets.
func Exhausted(resetAt time.Time) *Error {
	return &Error{
		Kind:    QuotaExhausted,
		Message: "resend limit reached",
		Data:    map[string]any{"reset_at": resetAt.UTC()},
	}
}

// As extracts the *Error from err's chain, or nil.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// KindOf returns the kind of err, Internal for foreign errors.
func KindOf(err error) Kind {
	if ae := As(err); ae != nil {
		return ae.Kind
	}
	return Internal
}
