package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Configuration and connection errors are terminal for a
// session; security, send and validation errors are local to one operation.

// ConfigError signals a missing or invalid capability. Raised before any
// connection attempt.
type ConfigError struct {
	Capability string
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Capability, e.Reason)
}

// SecurityError signals a disallowed operation, such as reading a local
// file attachment without the unsafe I/O capability.
type SecurityError struct {
	Op     string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security error: %s: %s", e.Op, e.Reason)
}

// ConnectionErrorKind distinguishes the terminal failure modes of the
// transport handshake.
type ConnectionErrorKind int

const (
	ConnectionFailed ConnectionErrorKind = iota
	ConnectionTokenExpired
	ConnectionEnded
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case ConnectionTokenExpired:
		return "token expired"
	case ConnectionEnded:
		return "connection ended"
	default:
		return "failed to connect"
	}
}

// ConnectionError fails the startup future exactly once; the session is
// unusable afterward.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("connection error: %s", e.Kind)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError is surfaced to the caller of one specific send; the session
// remains usable for subsequent sends.
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (%s): %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ValidationError signals a malformed outbound activity, such as a
// structured value in the text field. Fatal or logged per configured
// strictness.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid outbound activity: field %q: %s", e.Field, e.Reason)
}

// ErrQueueNotStarted is returned when an operation is submitted to a
// dispatch queue that was never started or has been torn down.
var ErrQueueNotStarted = errors.New("dispatch queue not started")
