// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import "github.com/bureau-foundation/resonance/envelope"

// Event is implemented by every event type passed to subscribers.
type Event interface {
	event()
}

// StateChanged is emitted on every state transition.
type StateChanged struct {
	Previous State
	Current  State
}

// ConnectionLost is emitted when an established connection ends for
// any reason other than a local Disconnect.
type ConnectionLost struct {
	Err error

	// FailTransporter is true when the transporter moved to
	// StateFailed rather than StateDisconnected.
	FailTransporter bool
}

// RequestReceived is emitted by the receive pump for every inbound
// request or message before its handler runs.
type RequestReceived struct {
	Token       string
	MessageType string
	Kind        envelope.Kind
}

// Failed is emitted when the transporter enters StateFailed.
type Failed struct {
	Err error
}

// KeepAliveFailed is emitted when the keep-alive monitor gives up on
// the peer, whether or not it fails the transporter.
type KeepAliveFailed struct {
	Err error
}

func (StateChanged) event()    {}
func (ConnectionLost) event()  {}
func (RequestReceived) event() {}
func (Failed) event()          {}
func (KeepAliveFailed) event() {}

type subscriber struct {
	id int
	fn func(Event)
}

// Subscribe registers fn for every event. Events are delivered
// synchronously on the goroutine that raised them, outside the
// transporter's locks, in subscription order; fn must not block for
// long. The returned function removes the subscription.
func (t *Transporter) Subscribe(fn func(Event)) (unsubscribe func()) {
	t.eventsMu.Lock()
	defer t.eventsMu.Unlock()
	t.nextSubscriber++
	id := t.nextSubscriber
	t.subscribers = append(t.subscribers, subscriber{id: id, fn: fn})
	return func() {
		t.eventsMu.Lock()
		defer t.eventsMu.Unlock()
		for i, s := range t.subscribers {
			if s.id == id {
				t.subscribers = append(t.subscribers[:i:i], t.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (t *Transporter) emit(events ...Event) {
	t.eventsMu.Lock()
	subscribers := t.subscribers
	t.eventsMu.Unlock()
	for _, e := range events {
		for _, s := range subscribers {
			s.fn(e)
		}
	}
}
