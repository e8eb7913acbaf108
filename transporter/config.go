// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/resonance/correlation"
	"github.com/bureau-foundation/resonance/envelope"
	"github.com/bureau-foundation/resonance/handshake"
	"github.com/bureau-foundation/resonance/keepalive"
	"github.com/bureau-foundation/resonance/lib/clock"
	"github.com/bureau-foundation/resonance/lib/codec"
	"github.com/bureau-foundation/resonance/lib/compress"
)

const (
	// DefaultRequestTimeout applies when neither the call nor Config
	// sets one.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultCompressionMinSize is the smallest envelope body that is
	// compressed when Compression.MinSize is zero.
	DefaultCompressionMinSize = 128
)

// Config configures a Transporter. The zero value is usable: CBOR
// payloads, a handshake without encryption, no compression and no
// keep-alive.
type Config struct {
	// Name identifies the transporter in logs. Empty uses the
	// adapter's name.
	Name string

	Logger *slog.Logger
	Clock  clock.Clock

	// Codec encodes payloads and envelopes. Nil selects CBOR.
	Codec codec.Codec

	// Encoder and Decoder replace the built-in transcoder. They must
	// be set together and cannot be combined with encryption or
	// compression, which the built-in transcoder implements.
	Encoder envelope.Encoder
	Decoder envelope.Decoder

	// TokenGenerator issues request tokens. Nil selects GUIDs.
	TokenGenerator correlation.TokenGenerator

	// DefaultRequestTimeout bounds requests that do not set their own
	// timeout.
	DefaultRequestTimeout time.Duration

	// LoggingMode is the default for calls that do not set one.
	LoggingMode LoggingMode

	KeepAlive    keepalive.Config
	Cryptography CryptographyConfiguration
	Compression  CompressionConfiguration
	Handshake    HandshakeConfiguration

	// MessageAck decides when this side acknowledges a message sent
	// with RequireACK.
	MessageAck MessageAckBehavior

	// RegistryShards sets the lock striping of the pending-request
	// registry. Zero selects correlation.DefaultShards.
	RegistryShards int
}

// CryptographyConfiguration enables the session cipher negotiated by
// the handshake.
type CryptographyConfiguration struct {
	Enabled bool

	// Provider seals the session password for the peer. Nil selects
	// handshake.AgeProvider.
	Provider handshake.CryptoProvider
}

// CompressionConfiguration enables frame compression.
type CompressionConfiguration struct {
	Enabled bool

	// Algorithm defaults to LZ4 when Enabled.
	Algorithm compress.Algorithm

	// MinSize is the smallest body worth compressing. Zero selects
	// DefaultCompressionMinSize.
	MinSize int
}

// HandshakeConfiguration controls the connect-time handshake.
type HandshakeConfiguration struct {
	// Disabled skips the handshake. Both peers must agree, and
	// encryption requires the handshake.
	Disabled bool

	// Timeout bounds the handshake. Zero selects
	// handshake.DefaultTimeout.
	Timeout time.Duration
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DefaultRequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("default request timeout must not be negative, got %v", c.DefaultRequestTimeout))
	}
	if c.Handshake.Timeout < 0 {
		errs = append(errs, fmt.Errorf("handshake timeout must not be negative, got %v", c.Handshake.Timeout))
	}
	if (c.Encoder == nil) != (c.Decoder == nil) {
		errs = append(errs, errors.New("encoder and decoder must be set together"))
	}
	if c.Encoder != nil && c.Cryptography.Enabled {
		errs = append(errs, errors.New("encryption requires the built-in transcoder"))
	}
	if c.Encoder != nil && c.Compression.Enabled {
		errs = append(errs, errors.New("compression requires the built-in transcoder"))
	}
	if c.Cryptography.Enabled && c.Handshake.Disabled {
		errs = append(errs, errors.New("encryption requires the handshake"))
	}
	if c.Compression.Enabled {
		switch c.Compression.Algorithm {
		case compress.None, compress.LZ4, compress.Zstd, compress.Gzip:
		default:
			errs = append(errs, fmt.Errorf("unknown compression algorithm %d", uint8(c.Compression.Algorithm)))
		}
		if c.Compression.MinSize < 0 {
			errs = append(errs, fmt.Errorf("compression min size must not be negative, got %d", c.Compression.MinSize))
		}
	}
	if c.RegistryShards < 0 {
		errs = append(errs, fmt.Errorf("registry shards must not be negative, got %d", c.RegistryShards))
	}
	switch c.LoggingMode {
	case LoggingDefault, LoggingNone, LoggingTitle, LoggingContent:
	default:
		errs = append(errs, fmt.Errorf("unknown logging mode %d", int(c.LoggingMode)))
	}
	switch c.MessageAck {
	case AckAfterHandler, AckOnReceipt:
	default:
		errs = append(errs, fmt.Errorf("unknown message ack behavior %d", int(c.MessageAck)))
	}
	if err := c.KeepAlive.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Clock = clock.OrReal(c.Clock)
	if c.Codec == nil {
		c.Codec = codec.CBOR
	}
	if c.TokenGenerator == nil {
		c.TokenGenerator = correlation.GUIDTokens{}
	}
	if c.DefaultRequestTimeout == 0 {
		c.DefaultRequestTimeout = DefaultRequestTimeout
	}
	if c.Compression.Enabled {
		if c.Compression.Algorithm == compress.None {
			c.Compression.Algorithm = compress.LZ4
		}
		if c.Compression.MinSize == 0 {
			c.Compression.MinSize = DefaultCompressionMinSize
		}
	}
	if c.Handshake.Timeout == 0 {
		c.Handshake.Timeout = handshake.DefaultTimeout
	}
	if c.Cryptography.Provider == nil {
		c.Cryptography.Provider = handshake.AgeProvider{}
	}
	if c.RegistryShards == 0 {
		c.RegistryShards = correlation.DefaultShards
	}
	c.KeepAlive = c.KeepAlive.WithDefaults()
	return c
}

// Priority orders frames in the send queue. Frames of equal priority
// go out in the order they were queued.
type Priority int8

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// LoggingMode controls how much of an outgoing message is logged.
type LoggingMode int

const (
	// LoggingDefault defers to Config.LoggingMode.
	LoggingDefault LoggingMode = iota

	// LoggingNone logs nothing.
	LoggingNone

	// LoggingTitle logs the token and message type at debug level.
	LoggingTitle

	// LoggingContent also logs the message itself.
	LoggingContent
)

// MessageAckBehavior is the receiving side's acknowledgement policy for
// messages sent with MessageConfig.RequireACK.
type MessageAckBehavior int

const (
	// AckAfterHandler acknowledges once the handler has returned and
	// reports its error, or a missing handler, to the sender.
	AckAfterHandler MessageAckBehavior = iota

	// AckOnReceipt acknowledges as soon as the message is decoded.
	// Handler errors are only logged.
	AckOnReceipt
)

func (b MessageAckBehavior) String() string {
	switch b {
	case AckAfterHandler:
		return "after_handler"
	case AckOnReceipt:
		return "on_receipt"
	default:
		return fmt.Sprintf("ack(%d)", int(b))
	}
}

// RequestConfig tunes one SendRequest call.
type RequestConfig struct {
	// Timeout bounds the wait for the response. Zero uses
	// Config.DefaultRequestTimeout.
	Timeout     time.Duration
	Priority    Priority
	LoggingMode LoggingMode
}

// ContinuousRequestConfig tunes one SendContinuousRequest call.
type ContinuousRequestConfig struct {
	// Timeout bounds the wait for the first response. Zero uses
	// Config.DefaultRequestTimeout.
	Timeout time.Duration

	// ContinuousTimeout bounds the gap between later responses. Zero
	// keeps the stream open until the peer completes it.
	ContinuousTimeout time.Duration

	Priority    Priority
	LoggingMode LoggingMode
}

// ResponseConfig tunes one SendResponse call.
type ResponseConfig struct {
	Priority    Priority
	LoggingMode LoggingMode
}

// MessageConfig tunes one SendObject call.
type MessageConfig struct {
	Priority Priority

	// RequireACK waits for the peer's acknowledgement. When the peer
	// acknowledges after its handler (its Config.MessageAck), a handler
	// error comes back as a *RemoteError.
	RequireACK bool

	// Timeout bounds the wait for the acknowledgement. Zero uses
	// Config.DefaultRequestTimeout.
	Timeout     time.Duration
	LoggingMode LoggingMode
}

func firstOr[C any](configs []C) C {
	var config C
	if len(configs) > 0 {
		config = configs[0]
	}
	return config
}
