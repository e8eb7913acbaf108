// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope defines the record every data frame carries and the
// frame layout around it.
//
// An [Envelope] holds correlation metadata (token, kind, type tag,
// completion and error fields) plus the application payload, already
// encoded by a codec. The [Transcoder] turns an envelope into a frame:
//
//	[Version: 1] [Codec: 1] [Compression: 1] [Flags: 1] [Size: 4, LE, only when compressed] [Body]
//
// The body is the codec encoding of the envelope, then compressed (when
// that makes it smaller), then sealed with the session cipher (when one
// is installed). The header bytes are the cipher's additional data.
//
// Handshake frames share the adapter but start with a zero byte, which
// no data frame does.
package envelope
