// Package apperr defines the error taxonomy shared by every ledger component
// and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a failure so callers can pick a user-facing message.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindEmpty       Kind = "empty"
	KindPersistence Kind = "persistence"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrEmpty       = errors.New("nothing to process")
	ErrPersistence = errors.New("persistence error")
)

var sentinels = map[Kind]error{
	KindValidation:  ErrValidation,
	KindNotFound:    ErrNotFound,
	KindConflict:    ErrConflict,
	KindEmpty:       ErrEmpty,
	KindPersistence: ErrPersistence,
}

// Error carries the failing operation, a message safe to show a user and the
// underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	default:
		return e.Msg
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports missing or invalid input. It is always raised before
// any write begins.
func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, format, args...)
}

// NotFound reports a missing entity.
func NotFound(op, entity string, id any) *Error {
	return newf(KindNotFound, op, "%s %v not found", entity, id)
}

// Conflict reports a uniqueness collision or a double submission.
func Conflict(op, format string, args ...any) *Error {
	return newf(KindConflict, op, format, args...)
}

// Empty reports that there was nothing to act on.
func Empty(op, format string, args ...any) *Error {
	return newf(KindEmpty, op, format, args...)
}

// Persistence wraps a store failure or timeout.
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Msg: "store unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindEmpty:
		return http.StatusUnprocessableEntity
	case KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an echo error carrying the user-facing message and
// the error kind.
func ToHTTP(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	var e *Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	msg := e.Msg
	if e.Kind == KindPersistence {
		msg = "the ledger store is unavailable, please retry"
	}
	return echo.NewHTTPError(status, map[string]string{
		"error":   string(e.Kind),
		"message": msg,
	}).SetInternal(err)
}
