package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a status-classified failure returned by services. Handlers map
// Status straight onto the HTTP response, so business rules decide the
// taxonomy (400/401/403/404/406) and handlers stay mechanical.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func New(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return New(http.StatusBadRequest, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(http.StatusUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(http.StatusForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, format, args...)
}

func NotAcceptable(format string, args ...any) *Error {
	return New(http.StatusNotAcceptable, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(http.StatusInternalServerError, format, args...)
}

// StatusOf returns the HTTP status carried by err, or 500 for anything
// that is not an *Error (unexpected I/O faults and the like).
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// IsStatus reports whether err carries the given status classification.
func IsStatus(err error, status int) bool {
	return StatusOf(err) == status
}
