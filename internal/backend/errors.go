package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized indicates a missing, expired or rejected credential.
	ErrUnauthorized = errors.New("authentication failed")

	// ErrNotFound indicates the requested conversation does not exist.
	ErrNotFound = errors.New("resource not found")
)

// TransportError means the exchange never produced a usable response:
// the network was unreachable, the request timed out, or the body read
// broke off.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is returned for any non-2xx response.
type HTTPStatusError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
	RequestID  string
}

func (e *HTTPStatusError) Error() string {
	msg := fmt.Sprintf("%s: API error: %s", e.Op, e.Status)
	if e.Body != "" {
		msg += " - " + e.Body
	}
	if e.RequestID != "" {
		msg += " [" + e.RequestID + "]"
	}
	return msg
}

// Unwrap maps well-known status codes onto sentinel errors
func (e *HTTPStatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// DecodeError reports a payload that could not be decoded: malformed UTF-8
// in a chat stream, or JSON that does not match the expected shape.
type DecodeError struct {
	Op     string
	Offset int64 // byte offset into the stream, -1 when unknown
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s: decode at byte %d: %v", e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: decode: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrorKind names the error class for metrics and logs
func ErrorKind(err error) string {
	var (
		te *TransportError
		he *HTTPStatusError
		de *DecodeError
	)
	switch {
	case errors.As(err, &de):
		return "decode"
	case errors.As(err, &he):
		return "http_status"
	case errors.As(err, &te):
		return "transport"
	default:
		return "other"
	}
}
