// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"errors"
	"fmt"
)

// Kind tells the receive pump how to route an envelope.
type Kind uint8

const (
	// KindRequest expects exactly one Response with the same token.
	KindRequest Kind = iota + 1

	// KindResponse answers a request. Completed marks the final
	// response of a continuous request.
	KindResponse

	// KindContinuousRequest expects Responses until one is Completed
	// or carries an error.
	KindContinuousRequest

	// KindMessage is one-way.
	KindMessage

	// KindMessageSync is one-way but acknowledged with an empty
	// Response once the receiver's handler has run.
	KindMessageSync

	// KindDisconnect announces an orderly close. ErrorMessage holds
	// the reason.
	KindDisconnect

	KindKeepAliveRequest
	KindKeepAliveResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindContinuousRequest:
		return "continuous_request"
	case KindMessage:
		return "message"
	case KindMessageSync:
		return "message_sync"
	case KindDisconnect:
		return "disconnect"
	case KindKeepAliveRequest:
		return "keepalive_request"
	case KindKeepAliveResponse:
		return "keepalive_response"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindRequest && k <= KindKeepAliveResponse
}

// Envelope is the wire record. The integer CBOR keys are protocol
// constants.
type Envelope struct {
	Token        string `cbor:"1,keyasint" json:"token"`
	Kind         Kind   `cbor:"2,keyasint" json:"kind"`
	MessageType  string `cbor:"3,keyasint,omitempty" json:"message_type,omitempty"`
	Completed    bool   `cbor:"4,keyasint,omitempty" json:"completed,omitempty"`
	HasError     bool   `cbor:"5,keyasint,omitempty" json:"has_error,omitempty"`
	ErrorMessage string `cbor:"6,keyasint,omitempty" json:"error_message,omitempty"`
	ErrorCode    string `cbor:"7,keyasint,omitempty" json:"error_code,omitempty"`

	// Timeout is the sender's request timeout in milliseconds. The
	// receiver only logs it.
	Timeout uint32 `cbor:"8,keyasint,omitempty" json:"timeout,omitempty"`

	// Payload is the application message encoded with the codec
	// named by Transcoding.
	Payload []byte `cbor:"9,keyasint,omitempty" json:"payload,omitempty"`

	// Filled in by Decode from the frame header; never on the wire
	// inside the body.
	Transcoding  string `cbor:"-" json:"-"`
	IsCompressed bool   `cbor:"-" json:"-"`
	IsEncrypted  bool   `cbor:"-" json:"-"`
}

// Typed lets an application type choose its own stable type tag
// instead of the Go package path and type name.
type Typed interface {
	ResonanceType() string
}

// Validate checks the invariants every envelope on the wire satisfies.
func (e *Envelope) Validate() error {
	var errs []error
	if e.Token == "" {
		errs = append(errs, errors.New("token is empty"))
	}
	if !e.Kind.Valid() {
		errs = append(errs, fmt.Errorf("unknown kind %d", uint8(e.Kind)))
	}
	if e.HasError && e.ErrorMessage == "" {
		errs = append(errs, errors.New("error flag set without an error message"))
	}
	switch e.Kind {
	case KindRequest, KindContinuousRequest, KindMessage, KindMessageSync:
		if e.MessageType == "" {
			errs = append(errs, fmt.Errorf("%s without a message type", e.Kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid envelope: %w", errors.Join(errs...))
	}
	return nil
}
