// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the helpers shared by the runtime's tests.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap a channel
// operation in a wall-clock safety valve so a broken test fails instead
// of hanging. [RequireEventually] polls a condition that has no channel
// to wait on, such as a transporter's state after a background failure.
// [SocketDir] returns a short directory for Unix socket paths.
//
// Every helper fails the test through t.Fatalf.
package testutil
