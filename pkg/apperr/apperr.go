// Package apperr defines the registry's error taxonomy. Handlers classify
// errors by concern, not by name, and a central mapper turns a Category
// into an HTTP status code.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Category is the error taxonomy used across the registry. It maps
// directly to a family of HTTP status codes.
type Category string

const (
	Validation    Category = "validation"
	Authentication Category = "authentication"
	Authorization Category = "authorization"
	NotFound      Category = "not_found"
	Conflict      Category = "conflict"
	ResourceLimit Category = "resource_limit"
	Upstream      Category = "upstream"
	Fatal         Category = "fatal"
)

// Error is a categorized application error. Fatal errors carry a
// correlation id so an operator can find the matching log line without
// the client seeing internal detail.
type Error struct {
	Category      Category
	Message       string
	Detail        string
	CorrelationID string
	TokenExpired  bool
	// StatusOverride, when non-zero, wins over the category's default
	// status. The resource-limit category maps to three different codes
	// depending on which constructor built the error.
	StatusOverride int
	Err            error
}

// HTTPStatus returns the status code the central mapper should send for
// this error.
func (e *Error) HTTPStatus() int {
	if e.StatusOverride != 0 {
		return e.StatusOverride
	}
	return StatusCode(e.Category)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// As reports whether err (or one of its wrapped causes) is an *Error and,
// if so, returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func newErr(cat Category, message string, err error) *Error {
	return &Error{Category: cat, Message: message, Err: err}
}

// Newf builds a categorized error with a formatted message and no cause.
func Newf(cat Category, format string, args ...any) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...)}
}

// Wrap categorizes an existing error, attaching it as the cause.
func Wrap(cat Category, message string, err error) *Error {
	return newErr(cat, message, err)
}

func Validationf(format string, args ...any) *Error {
	return Newf(Validation, format, args...)
}

// Unauthenticated reports a missing or invalid credential.
func Unauthenticated(message string) *Error {
	return &Error{Category: Authentication, Message: message}
}

// TokenExpired reports an expired internal token distinctly so the SDK
// can attempt a one-shot transparent refresh.
func TokenExpired(message string) *Error {
	return &Error{Category: Authentication, Message: message, TokenExpired: true}
}

func Forbidden(message string) *Error {
	return &Error{Category: Authorization, Message: message}
}

func NotFoundf(format string, args ...any) *Error {
	return Newf(NotFound, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return Newf(Conflict, format, args...)
}

// LockHeld reports that a requested lock is currently held by another
// owner (423).
func LockHeld(lockName, ownerID string) *Error {
	return &Error{
		Category:       ResourceLimit,
		Message:        "lock held by another owner",
		Detail:         fmt.Sprintf("lock=%s owner=%s", lockName, ownerID),
		StatusOverride: 423,
	}
}

// ConcurrencyLimitReached reports that an environment's concurrent-lock
// cap has been reached (429).
func ConcurrencyLimitReached(environmentID string, limit int) *Error {
	return &Error{
		Category:       ResourceLimit,
		Message:        "concurrency limit reached",
		Detail:         fmt.Sprintf("environment=%s limit=%d", environmentID, limit),
		StatusOverride: 429,
	}
}

// CreationCapReached reports a per-user organization/workspace creation
// cap (403 with detail, per the taxonomy).
func CreationCapReached(resource string, limit int) *Error {
	return &Error{
		Category:       ResourceLimit,
		Message:        fmt.Sprintf("%s creation limit reached", resource),
		Detail:         fmt.Sprintf("limit=%d", limit),
		StatusOverride: 403,
	}
}

// Upstreamf reports a transient failure from an external dependency
// (OIDC provider, JWKS endpoint). Treated as 5xx; callers may fall back
// to cached state when available.
func Upstreamf(err error, format string, args ...any) *Error {
	return Wrap(Upstream, fmt.Sprintf(format, args...), err)
}

// Internal wraps an unexpected failure (constraint violation the caller
// didn't anticipate, panic recovery) with a fresh correlation id for
// cross-referencing logs.
func Internal(err error) *Error {
	return &Error{
		Category:      Fatal,
		Message:       "internal error",
		CorrelationID: uuid.NewString(),
		Err:           err,
	}
}

// StatusCode maps a Category to the HTTP status the central mapper
// returns to the client.
func StatusCode(cat Category) int {
	switch cat {
	case Validation:
		return 400
	case Authentication:
		return 401
	case Authorization:
		return 403
	case NotFound:
		return 404
	case Conflict:
		return 409
	case ResourceLimit:
		return 423
	case Upstream, Fatal:
		return 500
	default:
		return 500
	}
}
