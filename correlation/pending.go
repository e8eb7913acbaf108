// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"context"
	"time"

	"github.com/bureau-foundation/resonance/lib/clock"
)

type outcome[T any] struct {
	value T
	err   error
}

// Pending is one in-flight request.
type Pending[T any] struct {
	Token       string
	MessageType string
	Continuous  bool

	// Created is set by Register from the registry's clock.
	Created time.Time

	// Timeout bounds the wait for the (first) response. Zero or
	// negative disables the timer.
	Timeout time.Duration

	// Inactivity bounds the gap between emissions of a continuous
	// request. Zero leaves the stream open after its first emission
	// until it completes, fails or is closed.
	Inactivity time.Duration

	// lastEmission is the clock time of the latest Emit, zero before
	// the first. Guarded by the shard lock.
	lastEmission time.Time

	result chan outcome[T]
	stream *Stream[T]
	timer  *clock.Timer
	cancel func()
}

// NewPending returns a single-response entry.
func NewPending[T any](token, messageType string, timeout time.Duration) *Pending[T] {
	return &Pending[T]{
		Token:       token,
		MessageType: messageType,
		Timeout:     timeout,
		result:      make(chan outcome[T], 1),
	}
}

// NewContinuous returns a multi-response entry.
func NewContinuous[T any](token, messageType string, timeout, inactivity time.Duration) *Pending[T] {
	p := &Pending[T]{
		Token:       token,
		MessageType: messageType,
		Continuous:  true,
		Timeout:     timeout,
		Inactivity:  inactivity,
	}
	p.stream = newStream[T](func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	return p
}

// Wait blocks until a single-response entry settles. If ctx ends first
// the entry is withdrawn from its registry and ctx's error returned.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case result := <-p.result:
		return result.value, result.err
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		var zero T
		return zero, ctx.Err()
	}
}

// Stream returns the value stream of a continuous entry, nil for a
// single-response one.
func (p *Pending[T]) Stream() *Stream[T] { return p.stream }

// due reports whether a timer firing at now may still expire the
// entry. A timer that lost a race with Emit finds it not due.
func (p *Pending[T]) due(now time.Time) bool {
	if !p.Continuous || p.lastEmission.IsZero() {
		return true
	}
	if p.Inactivity <= 0 {
		return false
	}
	return now.Sub(p.lastEmission) >= p.Inactivity
}

// settle finishes the entry once it has been removed from the map.
func (p *Pending[T]) settle(value T, err error, hasValue bool) {
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.Continuous {
		if hasValue {
			p.stream.push(value)
		}
		p.stream.finish(err)
		return
	}
	p.result <- outcome[T]{value: value, err: err}
}
