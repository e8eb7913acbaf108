// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transporter turns an [adapter.Adapter] into a multiplexed
// request/response and messaging channel.
//
// A [Transporter] owns one adapter for its whole life. Connect brings
// the adapter up, runs the handshake (and with it the optional
// session-key exchange), and starts the keep-alive monitor. From then
// on any number of requests may be in flight: each carries a token, and
// the receive pump matches responses to waiters by token regardless of
// order.
//
// Sending is done with the generic functions [SendRequest],
// [SendContinuousRequest] and the methods SendObject, SendResponse and
// SendErrorResponse. Receiving is done by registering handlers keyed by
// the request's type tag (see [TypeTag]): [RegisterRequestHandler],
// [RegisterContinuousRequestHandler], [RegisterMessageHandler].
//
// The goroutines per transporter are the receive pump, the writer that
// drains the priority send queue, the keep-alive monitor when enabled,
// and one per handler invocation. Background failures are reported
// through events (see Subscribe) and by moving to StateFailed; nothing
// in this package panics on a remote peer's behalf.
package transporter
