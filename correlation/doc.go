// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package correlation tracks requests that are waiting for a response.
//
// A [Registry] maps tokens to [Pending] entries. The send path
// registers an entry before the request leaves, the receive path
// resolves it, and a per-entry timer rejects it with [ErrTimeout] when
// no response arrives in time. Every completion removes the entry
// under its shard lock first and delivers second, so exactly one of
// response, timeout, cancellation, or disconnect settles each entry.
//
// Continuous entries stay registered across emissions and hand values
// to a [Stream] until the peer completes or fails them.
//
// The map is split into shards by token hash; unrelated tokens never
// contend on the same lock.
package correlation
