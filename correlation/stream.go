// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed is returned by Recv after the consumer called Close.
var ErrStreamClosed = errors.New("correlation: stream closed")

// Stream delivers the values of a continuous request in arrival order,
// then io.EOF after completion or the error that ended it. Values are
// buffered without bound; a slow consumer never stalls the receive
// pump.
type Stream[T any] struct {
	mu       sync.Mutex
	values   []T
	finished bool
	err      error
	wake     chan struct{}
	onClose  func()
}

func newStream[T any](onClose func()) *Stream[T] {
	return &Stream[T]{wake: make(chan struct{}, 1), onClose: onClose}
}

func (s *Stream[T]) push(value T) {
	s.mu.Lock()
	if !s.finished {
		s.values = append(s.values, value)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Stream[T]) finish(err error) {
	s.mu.Lock()
	if !s.finished {
		s.finished = true
		s.err = err
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Stream[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Recv returns the next value. After the last value it returns io.EOF
// when the stream completed, or the error that ended it.
func (s *Stream[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if len(s.values) > 0 {
			value := s.values[0]
			s.values[0] = zero
			s.values = s.values[1:]
			s.mu.Unlock()
			return value, nil
		}
		if s.finished {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return zero, err
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close stops consumption. The request is withdrawn from its registry,
// values still buffered are dropped, and Recv returns ErrStreamClosed.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = ErrStreamClosed
	s.values = nil
	s.mu.Unlock()
	s.signal()
	if s.onClose != nil {
		s.onClose()
	}
}
