package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries an HTTP status and a machine-readable code alongside
// the underlying cause. Handlers map it straight onto the response.
type Error struct {
	Status int
	Code   string
	Err    error

	// CurrentVersion is set on Conflict errors so the client can
	// reconcile against the authoritative version.
	CurrentVersion int64
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Unauthorized(err error) *Error {
	return New(http.StatusUnauthorized, "unauthorized", err)
}

func Forbidden(err error) *Error {
	return New(http.StatusForbidden, "forbidden", err)
}

func NotFound(err error) *Error {
	return New(http.StatusNotFound, "not_found", err)
}

// Conflict reports a stale-version write. currentVersion is the
// persisted node's true version at rejection time.
func Conflict(currentVersion int64) *Error {
	return &Error{
		Status:         http.StatusConflict,
		Code:           "conflict",
		Err:            fmt.Errorf("stale version, current is %d", currentVersion),
		CurrentVersion: currentVersion,
	}
}

// InvalidMove reports a reparent that would make a node its own ancestor.
func InvalidMove(err error) *Error {
	return New(http.StatusBadRequest, "invalid_move", err)
}

func Validation(err error) *Error {
	return New(http.StatusBadRequest, "validation_error", err)
}

// From converts any error into an *Error, defaulting to a 500.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, "internal", err)
}
