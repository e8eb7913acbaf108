// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/resonance/lib/codec"
)

// FramePrefix is the first byte of every handshake frame.
const FramePrefix byte = 0x00

// MessageType distinguishes handshake messages.
type MessageType uint8

const (
	MessageRequest  MessageType = 1
	MessageResponse MessageType = 2
	MessageComplete MessageType = 3
	MessageDecline  MessageType = 4
)

func (m MessageType) String() string {
	switch m {
	case MessageRequest:
		return "request"
	case MessageResponse:
		return "response"
	case MessageComplete:
		return "complete"
	case MessageDecline:
		return "decline"
	default:
		return fmt.Sprintf("message(%d)", uint8(m))
	}
}

// Message is a handshake message. Always CBOR, whatever codec the data
// frames use, since the peers have not agreed on anything yet.
type Message struct {
	Type              MessageType `cbor:"1,keyasint"`
	ClientID          int64       `cbor:"2,keyasint"`
	RequireEncryption bool        `cbor:"3,keyasint,omitempty"`
	PublicKey         string      `cbor:"4,keyasint,omitempty"`

	// SymmetricPassword is sealed to the receiver's public key.
	SymmetricPassword string `cbor:"5,keyasint,omitempty"`
}

// EncodeFrame renders m as a handshake frame.
func EncodeFrame(m *Message) ([]byte, error) {
	body, err := codec.CBOR.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding handshake %s: %w", m.Type, err)
	}
	return append([]byte{FramePrefix}, body...), nil
}

// DecodeFrame parses a handshake frame.
func DecodeFrame(frame []byte) (*Message, error) {
	if len(frame) < 2 || frame[0] != FramePrefix {
		return nil, errors.New("not a handshake frame")
	}
	m := &Message{}
	if err := codec.CBOR.Unmarshal(frame[1:], m); err != nil {
		return nil, fmt.Errorf("decoding handshake message: %w", err)
	}
	return m, nil
}

// IsFrame reports whether frame is a handshake frame.
func IsFrame(frame []byte) bool {
	return len(frame) > 0 && frame[0] == FramePrefix
}
