// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake negotiates a session between two peers before any
// data frame is exchanged, and optionally delivers a shared symmetric
// password sealed to the other peer's public key.
//
// Both peers run the same [Negotiator]. Each sends a Request carrying a
// random ClientID, its encryption requirement, and a fresh public key.
// A peer that receives a Request while still idle answers with its own
// Request first, so simultaneous and one-sided starts converge. The
// peer with the larger ClientID then sends a Response; when encryption
// is on, the Response carries a new random password sealed to the
// other peer's key. The smaller peer opens it, marks itself complete,
// and sends Complete, which completes the larger peer. Exactly one
// side ever generates the password.
//
// Peers that disagree about encryption both send Decline and fail with
// [ErrDeclined].
//
// Handshake frames begin with [FramePrefix] so the transporter can
// route them before the data frame decoder sees them.
package handshake
