// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/resonance/lib/codec"
	"github.com/bureau-foundation/resonance/lib/compress"
	"github.com/bureau-foundation/resonance/lib/symmetric"
)

// Version is the first byte of every data frame.
const Version byte = 0x01

const (
	headerSize     = 4
	sizeFieldBytes = 4

	flagEncrypted byte = 1 << 0
)

// MaxBodySize bounds the uncompressed size a frame header may claim.
const MaxBodySize = 64 << 20

// Encoder turns an envelope into a frame.
type Encoder interface {
	Encode(*Envelope) ([]byte, error)
}

// Decoder turns a frame back into an envelope.
type Decoder interface {
	Decode(frame []byte) (*Envelope, error)
}

// ErrUnencrypted is returned for a plaintext data frame on a session
// that has a cipher installed.
var ErrUnencrypted = errors.New("unencrypted frame on a secure session")

// ErrNoSessionKey is returned for an encrypted frame received before a
// session cipher was installed.
var ErrNoSessionKey = errors.New("encrypted frame before a session key was negotiated")

// TranscoderOptions configures a Transcoder.
type TranscoderOptions struct {
	// Codec encodes outgoing envelopes. Nil selects CBOR. Incoming
	// frames are decoded with whichever codec their header names.
	Codec codec.Codec

	// Compression is applied to outgoing bodies of at least
	// CompressionMinSize bytes. compress.None disables it.
	Compression        compress.Algorithm
	CompressionMinSize int
}

// Transcoder is the default Encoder and Decoder. Safe for concurrent
// use.
type Transcoder struct {
	codec       codec.Codec
	compression compress.Algorithm
	minSize     int
	cipher      atomic.Pointer[symmetric.Cipher]
}

var (
	_ Encoder = (*Transcoder)(nil)
	_ Decoder = (*Transcoder)(nil)
)

// NewTranscoder returns a Transcoder with no session cipher.
func NewTranscoder(options TranscoderOptions) *Transcoder {
	if options.Codec == nil {
		options.Codec = codec.CBOR
	}
	return &Transcoder{
		codec:       options.Codec,
		compression: options.Compression,
		minSize:     options.CompressionMinSize,
	}
}

// Codec returns the codec used for outgoing frames.
func (t *Transcoder) Codec() codec.Codec { return t.codec }

// InstallCipher switches the transcoder to encrypting every outgoing
// frame and requiring encryption on every incoming one. A session
// cipher is installed at most once; later calls fail.
func (t *Transcoder) InstallCipher(c *symmetric.Cipher) error {
	if !t.cipher.CompareAndSwap(nil, c) {
		return errors.New("session cipher already installed")
	}
	return nil
}

// Secure reports whether a session cipher is installed.
func (t *Transcoder) Secure() bool { return t.cipher.Load() != nil }

// Encode builds a frame from e.
func (t *Transcoder) Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	body, err := t.codec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope with %s: %w", t.codec.Name(), err)
	}

	algorithm := compress.None
	uncompressedSize := len(body)
	if t.compression != compress.None && len(body) >= t.minSize {
		compressed, err := compress.Compress(body, t.compression)
		switch {
		case err == nil:
			body = compressed
			algorithm = t.compression
		case !errors.Is(err, compress.ErrIncompressible):
			return nil, err
		}
	}

	header := make([]byte, headerSize, headerSize+sizeFieldBytes)
	header[0] = Version
	header[1] = t.codec.ID()
	header[2] = byte(algorithm)
	if algorithm != compress.None {
		header = binary.LittleEndian.AppendUint32(header, uint32(uncompressedSize))
	}

	cipher := t.cipher.Load()
	if cipher == nil {
		return append(header, body...), nil
	}
	header[3] |= flagEncrypted
	sealed, err := cipher.Seal(body, header)
	if err != nil {
		return nil, err
	}
	return append(header, sealed...), nil
}

// Decode parses a frame built by Encode.
func (t *Transcoder) Decode(frame []byte) (*Envelope, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("frame is %d bytes, shorter than the %d-byte header", len(frame), headerSize)
	}
	if frame[0] != Version {
		return nil, fmt.Errorf("unsupported frame version %d", frame[0])
	}
	bodyCodec, err := codec.ByID(frame[1])
	if err != nil {
		return nil, err
	}
	algorithm := compress.Algorithm(frame[2])
	flags := frame[3]

	headerLength := headerSize
	uncompressedSize := 0
	if algorithm != compress.None {
		if len(frame) < headerSize+sizeFieldBytes {
			return nil, errors.New("compressed frame is missing its size field")
		}
		uncompressedSize = int(binary.LittleEndian.Uint32(frame[headerSize:]))
		if uncompressedSize > MaxBodySize {
			return nil, fmt.Errorf("frame claims %d uncompressed bytes, limit is %d", uncompressedSize, MaxBodySize)
		}
		headerLength += sizeFieldBytes
	}
	header := frame[:headerLength]
	body := frame[headerLength:]

	encrypted := flags&flagEncrypted != 0
	cipher := t.cipher.Load()
	switch {
	case encrypted && cipher == nil:
		return nil, ErrNoSessionKey
	case !encrypted && cipher != nil:
		return nil, ErrUnencrypted
	case encrypted:
		body, err = cipher.Open(body, header)
		if err != nil {
			return nil, err
		}
	}

	if algorithm != compress.None {
		body, err = compress.Decompress(body, algorithm, uncompressedSize)
		if err != nil {
			return nil, err
		}
	}

	e := &Envelope{}
	if err := bodyCodec.Unmarshal(body, e); err != nil {
		return nil, fmt.Errorf("decoding %s envelope: %w", bodyCodec.Name(), err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	e.Transcoding = bodyCodec.Name()
	e.IsCompressed = algorithm != compress.None
	e.IsEncrypted = encrypted
	return e, nil
}
