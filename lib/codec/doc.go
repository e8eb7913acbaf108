// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec turns envelopes and application payloads into bytes.
//
// Each [Codec] carries a one-byte wire ID written into every data frame
// header, so a receiver decodes with whatever the sender used regardless
// of its own preference. Two codecs are built in:
//
//   - [CBOR] (ID 1, the default): Core Deterministic Encoding via
//     fxamacker/cbor. Same value, same bytes.
//   - [JSON] (ID 2): encoding/json, for peers and captures that need
//     to be human-readable.
//
// Types implementing encoding.TextMarshaler are written as text strings
// by both codecs.
package codec
