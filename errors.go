package megalodon

import (
	"errors"
	"fmt"
)

// ErrorClass classifies stream errors for handling purposes.
type ErrorClass int

const (
	// ClassParser is a malformed or unrecognized message. The stream continues.
	ClassParser ErrorClass = iota
	// ClassTransport is an I/O failure. The connection is torn down and retried.
	ClassTransport
	// ClassUnauthorized is terminal; no retry is attempted.
	ClassUnauthorized
	// ClassPermanent is a non-auth rejection the server will keep returning.
	ClassPermanent
	// ClassRateLimited is retried with a long exponential backoff.
	ClassRateLimited
	// ClassServerError is retried with a capped exponential backoff.
	ClassServerError
	// ClassStall means no liveness signal arrived within the heartbeat window.
	ClassStall
)

func (c ErrorClass) String() string {
	switch c {
	case ClassParser:
		return "parser"
	case ClassTransport:
		return "transport"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassPermanent:
		return "permanent"
	case ClassRateLimited:
		return "rate_limited"
	case ClassServerError:
		return "server_error"
	case ClassStall:
		return "stall"
	default:
		return "unknown"
	}
}

var (
	ErrStall          = errors.New("no liveness signal within heartbeat window")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedFrame = errors.New("malformed frame")
)

// StreamError wraps an error with its classification.
type StreamError struct {
	Class      ErrorClass
	Op         string
	StatusCode int
	Err        error
}

func (e *StreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Class, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func newStreamError(class ErrorClass, op string, err error) *StreamError {
	return &StreamError{Class: class, Op: op, Err: err}
}

// ClassOf returns the class of err, or ClassTransport when err carries none.
func ClassOf(err error) ErrorClass {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassTransport
}

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	switch ClassOf(err) {
	case ClassUnauthorized, ClassPermanent:
		return true
	}
	return false
}

// UnknownNotificationTypeError is returned by normalizers that receive a
// notification whose type tag is not in their known set.
type UnknownNotificationTypeError struct {
	Provider string
	Type     string
}

func (e *UnknownNotificationTypeError) Error() string {
	return fmt.Sprintf("%s: unknown notification type %q", e.Provider, e.Type)
}
