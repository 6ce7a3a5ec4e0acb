package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected   = errors.New("push transport not connected")
	ErrAckTimeout     = errors.New("acknowledgment timed out")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrRejected       = errors.New("action rejected")
)

// APIError is a non-2xx response from the fallback API. The body follows the
// {"error":{"code","message"}} envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap lets callers match any API failure with errors.Is(err, ErrRejected).
func (e *APIError) Unwrap() error { return ErrRejected }

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
