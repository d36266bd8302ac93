// Package apierr defines the error kinds shared by the Coordinator,
// AgentState, and Lock singletons and maps them to HTTP status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds from the coordination core's error
// handling design: validation, ownership, state, contention, not-found,
// storage.
type Kind string

const (
	Validation Kind = "validation"
	Ownership  Kind = "ownership"
	State      Kind = "state"
	Contention Kind = "contention"
	NotFound   Kind = "not_found"
	Storage    Kind = "storage"
)

// Error is a typed API error carrying a Kind, a message, and optional
// structured details (e.g. {"assignedTo": "agent-b"} on a contention
// error) that the HTTP layer surfaces verbatim in the response body.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...interface{}) *Error { return newErr(Validation, format, args...) }
func Ownershipf(format string, args ...interface{}) *Error  { return newErr(Ownership, format, args...) }
func Statef(format string, args ...interface{}) *Error       { return newErr(State, format, args...) }
func Contentionf(format string, args ...interface{}) *Error { return newErr(Contention, format, args...) }
func NotFoundf(format string, args ...interface{}) *Error    { return newErr(NotFound, format, args...) }

// Storagef wraps a local-storage failure. The underlying error message is
// only exposed in the response body's `details` field, per the error
// handling design.
func Storagef(cause error, format string, args ...interface{}) *Error {
	e := newErr(Storage, format, args...)
	e.cause = cause
	if cause != nil {
		e.Details = map[string]interface{}{"cause": cause.Error()}
	}
	return e
}

// WithDetails attaches structured detail fields (e.g. the current owner of
// a contended resource) and returns the same error for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// Status maps a Kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Ownership:
		return http.StatusForbidden
	case State, Contention:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Storage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err, if any exists in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
