package devserver

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limited")
)

// Error wraps a sentinel error with a code and message for the client.
type Error struct {
	Err     error
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

func notFound(code, message string) *Error {
	return &Error{Err: ErrNotFound, Code: code, Message: message}
}

func forbidden(code, message string) *Error {
	return &Error{Err: ErrForbidden, Code: code, Message: message}
}

func badRequest(code, message string) *Error {
	return &Error{Err: ErrBadRequest, Code: code, Message: message}
}

func rateLimited() *Error {
	return &Error{Err: ErrRateLimited, Code: "RATE_LIMITED", Message: "too many requests, please try again later"}
}

// describe maps err to an HTTP status, code and message.
func describe(err error) (status int, code, message string) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, "INTERNAL", "internal server error"
	}
	switch {
	case errors.Is(e, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(e, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(e, ErrRateLimited):
		status = http.StatusTooManyRequests
	default:
		status = http.StatusBadRequest
	}
	return status, e.Code, e.Message
}
