// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"fmt"
)

// Adapter is a bidirectional frame pipe to one peer.
type Adapter interface {
	// Name identifies the adapter in logs, e.g. "tcp 127.0.0.1:7000".
	Name() string

	State() State

	// Connect establishes the link. It may be called once.
	Connect(ctx context.Context) error

	// Disconnect releases the link. Incoming is closed once the reader
	// has stopped. Calling Disconnect more than once is harmless.
	Disconnect(ctx context.Context) error

	// Write sends one frame. Concurrent calls are serialized and never
	// interleave.
	Write(ctx context.Context, frame []byte) error

	// Incoming delivers received frames in arrival order. It is closed
	// when the adapter stops reading, after a Disconnect or a failure.
	Incoming() <-chan []byte

	// Err returns the failure that closed Incoming, or nil after a
	// clean Disconnect.
	Err() error
}

// State is the adapter's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotConnected is returned by Write before Connect or after the
	// link went down.
	ErrNotConnected = errors.New("adapter is not connected")

	// ErrAlreadyUsed is returned by Connect on an adapter that has
	// already connected once.
	ErrAlreadyUsed = errors.New("adapter has already been used")

	// ErrFrameTooLarge is returned by Write when the frame exceeds what
	// the adapter can carry.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrPeerClosed is reported by Err when the peer closed the link
	// without an error.
	ErrPeerClosed = errors.New("peer closed the connection")
)
