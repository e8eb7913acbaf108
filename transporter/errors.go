// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/resonance/correlation"
)

var (
	// ErrDisconnected is returned for work that cannot complete because
	// the transporter went down. Pending requests rejected at shutdown
	// wrap it together with the cause.
	ErrDisconnected = errors.New("transporter disconnected")

	// ErrNotConnected is returned by sends before Connect.
	ErrNotConnected = errors.New("transporter is not connected")

	// ErrAlreadyUsed is returned by Connect on a transporter that has
	// connected before. Transporters are single-use.
	ErrAlreadyUsed = errors.New("transporter has already been used")

	// ErrHandlerExists is returned when a handler is already
	// registered for the message type.
	ErrHandlerExists = errors.New("handler already registered")

	// ErrRequestTimeout matches requests that got no response in time.
	ErrRequestTimeout = correlation.ErrTimeout
)

// Error codes carried in error responses generated by the runtime.
const (
	CodeNoHandler    = "no_handler"
	CodeHandlerPanic = "handler_panic"
	CodeBadPayload   = "bad_payload"
)

// ConnectionError wraps an adapter failure.
type ConnectionError struct {
	// Op is the adapter operation that failed: "connect", "send" or
	// "receive".
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a frame that could not be decoded or did not
// follow the protocol. It fails the transporter.
type ProtocolError struct {
	// Token is the envelope token when it could be read.
	Token string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error (token %s): %v", e.Token, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError is an error response from the peer.
type RemoteError struct {
	Message string
	Code    string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return "remote error: " + e.Message
	}
	return fmt.Sprintf("remote error [%s]: %s", e.Code, e.Message)
}

// ErrorCode lets a handler relay a remote error with its code intact.
func (e *RemoteError) ErrorCode() string { return e.Code }

// ConnectionClosedError is the cause recorded when the peer announced
// an orderly disconnect.
type ConnectionClosedError struct {
	Reason string
}

func (e *ConnectionClosedError) Error() string {
	if e.Reason == "" {
		return "peer disconnected"
	}
	return "peer disconnected: " + e.Reason
}

// Is makes a peer disconnect match ErrDisconnected.
func (e *ConnectionClosedError) Is(target error) bool {
	return target == ErrDisconnected
}

// disconnectedBy wraps cause so it matches both ErrDisconnected and the
// cause.
func disconnectedBy(cause error) error {
	switch {
	case cause == nil:
		return ErrDisconnected
	case errors.Is(cause, ErrDisconnected):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrDisconnected, cause)
	}
}

// codedError attaches an error code to an error returned by the
// runtime itself.
type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string     { return e.err.Error() }
func (e *codedError) Unwrap() error     { return e.err }
func (e *codedError) ErrorCode() string { return e.code }

// errorCode returns the code of the first error in err's chain that
// has one.
func errorCode(err error) string {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}
