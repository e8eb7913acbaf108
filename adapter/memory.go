// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Hub pairs in-process adapters by address. The first Open of an
// address waits for the second; the pair is then wired back to back and
// the address is free for the next pair.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	waiting map[string]*MemoryAdapter
}

// NewHub returns an empty hub. A nil logger discards.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{logger: logger, waiting: make(map[string]*MemoryAdapter)}
}

// Open returns one endpoint of the pair at address.
func (h *Hub) Open(address string) *MemoryAdapter {
	a := &MemoryAdapter{
		link:    newLink("memory "+address, h.logger),
		hub:     h,
		address: address,
		paired:  make(chan struct{}),
		inbox:   newInbox(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if other, ok := h.waiting[address]; ok {
		delete(h.waiting, address)
		a.peer, other.peer = other, a
		close(a.paired)
		close(other.paired)
		return a
	}
	h.waiting[address] = a
	return a
}

// withdraw removes a from the waiting set if it is still unpaired.
func (h *Hub) withdraw(a *MemoryAdapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.waiting[a.address] == a {
		delete(h.waiting, a.address)
	}
}

// MemoryAdapter is one end of an in-process pair. Frames written to it
// queue without bound in the peer's inbox.
type MemoryAdapter struct {
	*link
	hub     *Hub
	address string

	// paired is closed once peer is set.
	paired chan struct{}
	peer   *MemoryAdapter

	inbox *inbox
}

var _ Adapter = (*MemoryAdapter)(nil)

// Connect waits for the other end of the pair to be opened.
func (a *MemoryAdapter) Connect(ctx context.Context) error {
	if err := a.begin(); err != nil {
		return err
	}
	select {
	case <-a.paired:
	case <-a.stopping:
		a.hub.withdraw(a)
		a.connectFailed(ErrNotConnected)
		return fmt.Errorf("connecting %s: %w", a.name, ErrNotConnected)
	case <-ctx.Done():
		a.hub.withdraw(a)
		err := fmt.Errorf("connecting %s: waiting for peer: %w", a.name, ctx.Err())
		a.connectFailed(err)
		return err
	}
	a.connected()
	go a.read()
	return nil
}

func (a *MemoryAdapter) read() {
	for {
		frame, ok := a.inbox.pop(a.stopping)
		if !ok {
			a.finish(nil)
			return
		}
		if !a.deliver(frame) {
			a.finish(nil)
			return
		}
	}
}

func (a *MemoryAdapter) Write(ctx context.Context, frame []byte) error {
	if !a.isConnected() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.peer.inbox.push(append([]byte(nil), frame...)) {
		return fmt.Errorf("writing to %s: %w", a.name, ErrPeerClosed)
	}
	return nil
}

// Disconnect closes both inboxes. The peer still receives the frames
// already queued for it before its Incoming closes.
func (a *MemoryAdapter) Disconnect(ctx context.Context) error {
	if !a.markClosing() {
		return nil
	}
	select {
	case <-a.paired:
	default:
		// Connect is still waiting and observes stopping.
		return nil
	}
	a.peer.inbox.close()
	a.inbox.close()
	select {
	case <-a.readerEnd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inbox is an unbounded FIFO of frames with a wakeup channel.
type inbox struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	ready  chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (q *inbox) push(frame []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *inbox) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *inbox) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop returns the next frame. It reports false once the inbox is
// closed and drained, or when stop is closed.
func (q *inbox) pop(stop <-chan struct{}) ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return frame, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-q.ready:
		case <-stop:
			return nil, false
		}
	}
}
