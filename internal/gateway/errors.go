package gateway

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Callers use them to choose the user-facing message.
var (
	ErrNetworkFailure = errors.New("network failure")
	ErrServerRejected = errors.New("server rejected request")
)

// NetworkError means the exchange with the backend could not complete:
// connection refused, timeout, or a body that is not the JSON envelope.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is matches ErrNetworkFailure.
func (e *NetworkError) Is(target error) bool { return target == ErrNetworkFailure }

// RejectedError means the backend answered with a falsy success flag.
type RejectedError struct {
	Op         string
	StatusCode int
	// Message is the backend's user-facing response text, possibly empty.
	Message string
	// Detail is the backend's error field, possibly empty.
	Detail string
}

func (e *RejectedError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Message
	}
	if msg == "" {
		msg = "success=false"
	}
	return fmt.Sprintf("%s rejected (status %d): %s", e.Op, e.StatusCode, msg)
}

// Is matches ErrServerRejected.
func (e *RejectedError) Is(target error) bool { return target == ErrServerRejected }

// RejectionMessage returns the backend message carried by err, if err is a rejection.
func RejectionMessage(err error) (string, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Message, true
	}
	return "", false
}
