// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/resonance/adapter"
	"github.com/bureau-foundation/resonance/lib/testutil"
)

const testTimeout = 10 * time.Second

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type CalculateRequest struct {
	A int
	B int
}

type CalculateResponse struct {
	Sum int
}

type ProgressRequest struct {
	Steps int
}

type ProgressUpdate struct {
	Step int
}

type EchoRequest struct {
	Text string
}

type Notice struct {
	Text string
}

// Unhandled is never registered with a handler.
type Unhandled struct{}

type PanicRequest struct{}

// TaggedRequest picks its own wire tag.
type TaggedRequest struct{}

func (TaggedRequest) ResonanceType() string { return "example.Tagged" }

// PointerTagged implements envelope.Typed on its pointer only.
type PointerTagged struct{}

func (*PointerTagged) ResonanceType() string { return "example.PointerTagged" }

// codeError carries an error code to the peer.
type codeError struct {
	code    string
	message string
}

func (e *codeError) Error() string     { return e.message }
func (e *codeError) ErrorCode() string { return e.code }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newPair builds two transporters over an in-memory pair. They are
// disconnected when the test ends.
func newPair(t *testing.T, clientConfig, serverConfig Config) (client, server *Transporter) {
	t.Helper()
	hub := adapter.NewHub(nil)
	if clientConfig.Logger == nil {
		clientConfig.Logger = testLogger()
	}
	if serverConfig.Logger == nil {
		serverConfig.Logger = testLogger()
	}
	clientConfig.Name, serverConfig.Name = "client", "server"

	var err error
	client, err = New(hub.Open("TST"), clientConfig)
	if err != nil {
		t.Fatalf("New client: %v", err)
	}
	server, err = New(hub.Open("TST"), serverConfig)
	if err != nil {
		t.Fatalf("New server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		client.Disconnect(ctx, "test finished")
		server.Disconnect(ctx, "test finished")
	})
	return client, server
}

// connectBoth connects a and b concurrently and returns their errors.
func connectBoth(t *testing.T, a, b *Transporter) (errA, errB error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errA = a.Connect(ctx) }()
	go func() { defer wg.Done(); errB = b.Connect(ctx) }()
	wg.Wait()
	return errA, errB
}

func mustConnect(t *testing.T, a, b *Transporter) {
	t.Helper()
	errA, errB := connectBoth(t, a, b)
	if errA != nil || errB != nil {
		t.Fatalf("Connect: %v, %v", errA, errB)
	}
}

// recorder collects events for later inspection.
type recorder struct {
	mu     sync.Mutex
	events []Event
	feed   chan Event
}

func record(t *Transporter) *recorder {
	r := &recorder{feed: make(chan Event, 128)}
	t.Subscribe(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		select {
		case r.feed <- e:
		default:
		}
	})
	return r
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// await returns the first event, from now on, for which match is true.
func await[E Event](t *testing.T, r *recorder) E {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case e := <-r.feed:
			if typed, ok := e.(E); ok {
				return typed
			}
		case <-deadline:
			var zero E
			t.Fatalf("no %T event within %v; saw %v", zero, testTimeout, r.snapshot())
			return zero
		}
	}
}

func count[E Event](events []Event) int {
	n := 0
	for _, e := range events {
		if _, ok := e.(E); ok {
			n++
		}
	}
	return n
}

func requireState(t *testing.T, tr *Transporter, want State) {
	t.Helper()
	testutil.RequireEventually(t, testTimeout, func() bool { return tr.State() == want },
		"%s reaches %s (is %s)", tr.Name(), want, tr.State())
}
