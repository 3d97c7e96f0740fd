package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrMessageTooLarge is matched by every *MessageTooLargeError.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrConnection is matched by every *ConnectionError.
	ErrConnection = errors.New("connection error")

	// ErrNotConnected is returned by Send while disconnected. The message is dropped.
	ErrNotConnected = errors.New("not connected")

	// ErrBackpressure is returned by Send when too many sends are in flight.
	ErrBackpressure = errors.New("too many outstanding messages")

	// ErrDormant is returned when reconnect attempts are exhausted.
	ErrDormant = errors.New("reconnect attempts exhausted")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("connector closed")
)

// MessageTooLargeError reports an outbound message over the size limit.
// The message is never transmitted.
type MessageTooLargeError struct {
	Type  string
	Size  int
	Limit int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("%s message is %d bytes, limit %d", e.Type, e.Size, e.Limit)
}

// Is makes errors.Is(err, ErrMessageTooLarge) true.
func (e *MessageTooLargeError) Is(target error) bool {
	return target == ErrMessageTooLarge
}

// ConnectionError reports a failed dial, read, or write.
type ConnectionError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnection) true.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// IsRetryable reports whether err clears on its own: a lost connection,
// a dropped message while disconnected, or backpressure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrBackpressure)
}

// IsFatal reports whether the connector has given up or been closed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDormant) || errors.Is(err, ErrClosed)
}
