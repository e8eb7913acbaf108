// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// TokenGenerator produces correlation tokens. Implementations must be
// safe for concurrent use and never repeat a token within one session.
type TokenGenerator interface {
	Next() string
}

// GUIDTokens generates random version 4 UUIDs. This is the default.
type GUIDTokens struct{}

// Next returns a new UUID string.
func (GUIDTokens) Next() string { return uuid.NewString() }

// SequentialTokens counts up from 1. Tokens are short, which keeps
// small frames small, and readable in logs. Both peers generate tokens
// independently, which is fine: responses are matched only against
// the sender's own registry.
type SequentialTokens struct {
	counter atomic.Uint64
}

// Next returns the next integer as a decimal string.
func (s *SequentialTokens) Next() string {
	return strconv.FormatUint(s.counter.Add(1), 10)
}
