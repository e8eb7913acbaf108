// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"log/slog"
	"sync"
)

// link holds the state every adapter shares: the state machine, the
// incoming channel, and the terminal error. The reader goroutine is
// the only sender on incoming and closes it through finish.
type link struct {
	name   string
	logger *slog.Logger

	incoming chan []byte
	// stopping is closed by Disconnect so a reader blocked on a slow
	// consumer can exit.
	stopping  chan struct{}
	stopOnce  sync.Once
	readerEnd chan struct{}

	mu      sync.Mutex
	state   State
	used    bool
	closing bool
	err     error
}

func newLink(name string, logger *slog.Logger) *link {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &link{
		name:      name,
		logger:    logger.With("adapter", name),
		incoming:  make(chan []byte, 64),
		stopping:  make(chan struct{}),
		readerEnd: make(chan struct{}),
	}
}

func (l *link) Name() string            { return l.name }
func (l *link) Incoming() <-chan []byte { return l.incoming }

func (l *link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// begin moves Disconnected to Connecting, once.
func (l *link) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used {
		return ErrAlreadyUsed
	}
	l.used = true
	l.state = StateConnecting
	return nil
}

func (l *link) connected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateConnecting {
		l.state = StateConnected
	}
}

// connectFailed records a Connect failure. No reader was started, so
// incoming is closed here.
func (l *link) connectFailed(err error) {
	l.mu.Lock()
	l.state = StateFailed
	l.err = err
	l.mu.Unlock()
	close(l.incoming)
	close(l.readerEnd)
}

func (l *link) isConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateConnected
}

func (l *link) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

// markClosing flags a local Disconnect. It reports false when the link
// never connected or is already down, in which case there is nothing to
// release.
func (l *link) markClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing || !l.used {
		return false
	}
	l.closing = true
	l.stopOnce.Do(func() { close(l.stopping) })
	return true
}

// deliver hands a frame to the consumer. It returns false when the
// adapter is stopping and the reader should exit.
func (l *link) deliver(frame []byte) bool {
	select {
	case l.incoming <- frame:
		return true
	case <-l.stopping:
		return false
	}
}

// finish is called by the reader goroutine on exit. A read error after
// a local Disconnect is the expected result of closing the underlying
// resource and is not recorded.
func (l *link) finish(readErr error) {
	l.mu.Lock()
	if l.closing {
		l.state = StateDisconnected
	} else {
		l.state = StateFailed
		if readErr == nil {
			readErr = ErrPeerClosed
		}
		l.err = readErr
		l.logger.Debug("adapter link lost", "error", readErr)
	}
	l.mu.Unlock()
	close(l.incoming)
	close(l.readerEnd)
}
