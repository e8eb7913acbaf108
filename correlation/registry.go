// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"errors"
	"fmt"
	"hash/maphash"
	"sync"

	"github.com/bureau-foundation/resonance/lib/clock"
)

var (
	// ErrTimeout rejects an entry whose response did not arrive in time.
	ErrTimeout = errors.New("request timed out")

	// ErrDuplicateToken is returned by Register for a token that is
	// already in flight.
	ErrDuplicateToken = errors.New("token already registered")
)

// DefaultShards is the shard count used when Options.Shards is zero.
const DefaultShards = 32

// Options configures a Registry.
type Options struct {
	// Clock drives the timeout timers. Nil selects the wall clock.
	Clock clock.Clock

	// Shards is the number of independently locked partitions.
	Shards int
}

// Registry maps tokens to in-flight requests. Safe for concurrent use.
type Registry[T any] struct {
	clock  clock.Clock
	seed   maphash.Seed
	shards []shard[T]
}

type shard[T any] struct {
	mu      sync.Mutex
	entries map[string]*Pending[T]
}

// New returns an empty registry.
func New[T any](options Options) *Registry[T] {
	count := options.Shards
	if count <= 0 {
		count = DefaultShards
	}
	r := &Registry[T]{
		clock:  clock.OrReal(options.Clock),
		seed:   maphash.MakeSeed(),
		shards: make([]shard[T], count),
	}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]*Pending[T])
	}
	return r
}

func (r *Registry[T]) shardFor(token string) *shard[T] {
	return &r.shards[maphash.String(r.seed, token)%uint64(len(r.shards))]
}

// Register adds p and arms its timeout. p must not be registered
// anywhere else.
func (r *Registry[T]) Register(p *Pending[T]) error {
	if p.Token == "" {
		return errors.New("correlation: empty token")
	}
	s := r.shardFor(p.Token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[p.Token]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateToken, p.Token)
	}
	p.Created = r.clock.Now()
	p.cancel = func() { r.Take(p.Token) }
	s.entries[p.Token] = p
	if p.Timeout > 0 {
		token := p.Token
		p.timer = r.clock.AfterFunc(p.Timeout, func() { r.expire(token, p) })
	}
	return nil
}

// take removes and returns the entry for token. When expected is
// non-nil only that exact entry is removed.
func (r *Registry[T]) take(token string, expected *Pending[T]) *Pending[T] {
	s := r.shardFor(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[token]
	if !ok || (expected != nil && p != expected) {
		return nil
	}
	delete(s.entries, token)
	return p
}

// TryTakeForTimeout atomically removes the entry for token on behalf
// of the timeout watchdog. It returns false when a response, a
// rejection, or a cancellation got there first.
func (r *Registry[T]) TryTakeForTimeout(token string) (*Pending[T], bool) {
	p := r.take(token, nil)
	return p, p != nil
}

func (r *Registry[T]) expire(token string, expected *Pending[T]) {
	s := r.shardFor(token)
	s.mu.Lock()
	p, ok := s.entries[token]
	if !ok || p != expected || !p.due(r.clock.Now()) {
		s.mu.Unlock()
		return
	}
	delete(s.entries, token)
	s.mu.Unlock()
	var zero T
	p.settle(zero, fmt.Errorf("%w (token %s)", ErrTimeout, token), false)
}

// Resolve completes the entry for token with value. A continuous entry
// receives value as its final emission. Reports whether an entry was
// waiting.
func (r *Registry[T]) Resolve(token string, value T) bool {
	p := r.take(token, nil)
	if p == nil {
		return false
	}
	p.settle(value, nil, true)
	return true
}

// Reject fails the entry for token with err.
func (r *Registry[T]) Reject(token string, err error) bool {
	p := r.take(token, nil)
	if p == nil {
		return false
	}
	var zero T
	p.settle(zero, err, false)
	return true
}

// Emit hands value to a continuous entry, which stays registered. The
// first emission disarms the first-response timeout; later gaps are
// bounded only by the entry's Inactivity. For a single-response entry Emit
// behaves like Resolve.
func (r *Registry[T]) Emit(token string, value T) bool {
	s := r.shardFor(token)
	s.mu.Lock()
	p, ok := s.entries[token]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if !p.Continuous {
		delete(s.entries, token)
		s.mu.Unlock()
		p.settle(value, nil, true)
		return true
	}
	// Pushing under the shard lock keeps the emission ordered before
	// any completion or timeout that takes the entry afterwards.
	p.stream.push(value)
	p.lastEmission = r.clock.Now()
	switch {
	case p.Inactivity <= 0:
		if p.timer != nil {
			p.timer.Stop()
		}
	case p.timer != nil:
		p.timer.Reset(p.Inactivity)
	default:
		p.timer = r.clock.AfterFunc(p.Inactivity, func() { r.expire(token, p) })
	}
	s.mu.Unlock()
	return true
}

// Complete ends a continuous entry without a final value. It returns
// false, leaving the entry untouched, when token is unknown or names a
// single-response entry.
func (r *Registry[T]) Complete(token string) bool {
	s := r.shardFor(token)
	s.mu.Lock()
	p, ok := s.entries[token]
	if !ok || !p.Continuous {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, token)
	s.mu.Unlock()
	var zero T
	p.settle(zero, nil, false)
	return true
}

// Take withdraws the entry for token without settling it. Used when the
// waiter itself gave up.
func (r *Registry[T]) Take(token string) bool {
	p := r.take(token, nil)
	if p == nil {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

// Lookup returns the entry for token without removing it.
func (r *Registry[T]) Lookup(token string) (*Pending[T], bool) {
	s := r.shardFor(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[token]
	return p, ok
}

// RejectAll fails every registered entry with err and returns how many
// there were.
func (r *Registry[T]) RejectAll(err error) int {
	var drained []*Pending[T]
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for token, p := range s.entries {
			drained = append(drained, p)
			delete(s.entries, token)
		}
		s.mu.Unlock()
	}
	var zero T
	for _, p := range drained {
		p.settle(zero, err, false)
	}
	return len(drained)
}

// Len returns the number of registered entries.
func (r *Registry[T]) Len() int {
	total := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}
