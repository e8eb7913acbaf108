// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter moves opaque frames between two peers.
//
// An [Adapter] knows nothing about envelopes, tokens or encryption. It
// delivers whole frames in arrival order on Incoming and writes whole
// frames with Write. The transporter owns everything above that.
//
// Implementations:
//
//   - [Hub] pairs in-process adapters by address, for tests and
//     single-process setups.
//   - [StreamAdapter] carries length-prefixed frames over any net.Conn:
//     TCP ([NewTCPAdapter]), Unix sockets ([NewUnixAdapter]), or an
//     accepted connection ([FromConn]). [Server] accepts such
//     connections.
//   - [UDPAdapter] sends one frame per datagram.
//   - [DataChannelAdapter] sends one frame per WebRTC data channel
//     message over a channel the caller has already negotiated.
//
// Adapters are single-use: after Disconnect, or after the link fails,
// construct a new one.
package adapter
