// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/resonance/lib/testutil"
)

const testTimeout = 5 * time.Second

func receive(t *testing.T, a Adapter) []byte {
	t.Helper()
	select {
	case frame, ok := <-a.Incoming():
		if !ok {
			t.Fatalf("%s: Incoming closed, err = %v", a.Name(), a.Err())
		}
		return frame
	case <-time.After(testTimeout):
		t.Fatalf("%s: no frame within %v", a.Name(), testTimeout)
		return nil
	}
}

func requireIncomingClosed(t *testing.T, a Adapter) {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case _, ok := <-a.Incoming():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("%s: Incoming not closed within %v", a.Name(), testTimeout)
		}
	}
}

func connectPair(t *testing.T, a, b Adapter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- a.Connect(ctx) }()
	go func() { errs <- b.Connect(ctx) }()
	for range 2 {
		if err := testutil.RequireReceive(t, errs, testTimeout, "Connect"); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
}

// exchange writes frames both ways and checks order.
func exchange(t *testing.T, a, b Adapter, count int) {
	t.Helper()
	ctx := context.Background()
	for i := range count {
		if err := a.Write(ctx, fmt.Appendf(nil, "a->b %d", i)); err != nil {
			t.Fatalf("a.Write %d: %v", i, err)
		}
	}
	for i := range count {
		if got, want := string(receive(t, b)), fmt.Sprintf("a->b %d", i); got != want {
			t.Fatalf("b received %q, want %q", got, want)
		}
	}
	if err := b.Write(ctx, []byte("b->a")); err != nil {
		t.Fatalf("b.Write: %v", err)
	}
	if got := string(receive(t, a)); got != "b->a" {
		t.Fatalf("a received %q", got)
	}
}

func TestMemoryPair(t *testing.T) {
	hub := NewHub(discardLogger())
	a, b := hub.Open("TST"), hub.Open("TST")
	connectPair(t, a, b)
	if a.State() != StateConnected || b.State() != StateConnected {
		t.Fatalf("states = %s, %s", a.State(), b.State())
	}
	exchange(t, a, b, 100)
}

func TestMemoryDisconnectDrainsPeer(t *testing.T) {
	hub := NewHub(nil)
	a, b := hub.Open("TST"), hub.Open("TST")
	connectPair(t, a, b)
	ctx := context.Background()

	for i := range 3 {
		if err := a.Write(ctx, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	for i := range 3 {
		if got := receive(t, b); !bytes.Equal(got, []byte{byte(i)}) {
			t.Fatalf("frame %d = %v", i, got)
		}
	}
	requireIncomingClosed(t, b)
	if !errors.Is(b.Err(), ErrPeerClosed) {
		t.Errorf("peer Err = %v, want ErrPeerClosed", b.Err())
	}
	if b.State() != StateFailed {
		t.Errorf("peer state = %s, want failed", b.State())
	}
	if a.Err() != nil || a.State() != StateDisconnected {
		t.Errorf("local Err = %v state = %s, want nil and disconnected", a.Err(), a.State())
	}
	if err := a.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
	if err := a.Write(ctx, []byte("late")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write after Disconnect = %v, want ErrNotConnected", err)
	}
	if err := a.Connect(ctx); !errors.Is(err, ErrAlreadyUsed) {
		t.Errorf("reconnect = %v, want ErrAlreadyUsed", err)
	}
}

func TestMemoryConnectWaitsForPeer(t *testing.T) {
	hub := NewHub(nil)
	lonely := hub.Open("nobody-else")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := lonely.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect = %v, want deadline exceeded", err)
	}
	// The address is free again: a fresh pair can use it.
	a, b := hub.Open("nobody-else"), hub.Open("nobody-else")
	connectPair(t, a, b)
}

func TestWriteBeforeConnect(t *testing.T) {
	adapters := []Adapter{
		NewHub(nil).Open("x"),
		NewTCPAdapter("127.0.0.1:1", Options{}),
		NewUDPAdapter("127.0.0.1:0", "127.0.0.1:1", ListenOptions{}),
	}
	for _, a := range adapters {
		if err := a.Write(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s: Write = %v, want ErrNotConnected", a.Name(), err)
		}
		if err := a.Disconnect(context.Background()); err != nil {
			t.Errorf("%s: Disconnect before Connect = %v", a.Name(), err)
		}
	}
}

// acceptOne serves a single connection from server and connects it.
func acceptOne(t *testing.T, server *Server) <-chan *StreamAdapter {
	accepted := make(chan *StreamAdapter, 1)
	go func() {
		a, err := server.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			close(accepted)
			return
		}
		if err := a.Connect(context.Background()); err != nil {
			t.Errorf("Connect accepted: %v", err)
		}
		accepted <- a
	}()
	return accepted
}

func testStream(t *testing.T, network, address string, dial func(string) *StreamAdapter) {
	server, err := Listen(context.Background(), network, address, ListenOptions{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()
	accepted := acceptOne(t, server)

	client := dial(server.Address())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	remote := testutil.RequireReceive(t, accepted, testTimeout, "accepted connection")
	if remote == nil {
		t.FailNow()
	}
	exchange(t, client, remote, 50)

	large := bytes.Repeat([]byte{0xab}, 1<<20)
	if err := client.Write(context.Background(), large); err != nil {
		t.Fatalf("Write large: %v", err)
	}
	if got := receive(t, remote); !bytes.Equal(got, large) {
		t.Errorf("large frame corrupted: %d bytes", len(got))
	}

	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	requireIncomingClosed(t, remote)
	if !errors.Is(remote.Err(), ErrPeerClosed) {
		t.Errorf("remote Err = %v, want ErrPeerClosed", remote.Err())
	}
	if client.Err() != nil {
		t.Errorf("client Err after Disconnect = %v", client.Err())
	}
}

func TestTCPStream(t *testing.T) {
	testStream(t, "tcp", "127.0.0.1:0", func(address string) *StreamAdapter {
		return NewTCPAdapter(address, Options{Logger: discardLogger(), DialTimeout: testTimeout})
	})
}

func TestUnixStream(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "resonance.sock")
	testStream(t, "unix", path, func(address string) *StreamAdapter {
		return NewUnixAdapter(address, Options{Logger: discardLogger()})
	})
}

func TestStreamWriteTooLarge(t *testing.T) {
	a := NewTCPAdapter("127.0.0.1:1", Options{})
	err := a.Write(context.Background(), make([]byte, MaxFrameSize+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Write = %v, want ErrFrameTooLarge", err)
	}
}

func TestTCPConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	address := listener.Addr().String()
	listener.Close()

	a := NewTCPAdapter(address, Options{})
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("Connect to a closed port succeeded")
	}
	if a.State() != StateFailed || a.Err() == nil {
		t.Errorf("state = %s err = %v, want failed with error", a.State(), a.Err())
	}
	requireIncomingClosed(t, a)
}

func TestServerReusePort(t *testing.T) {
	if !reusePortSupported {
		t.Skip("SO_REUSEPORT unavailable")
	}
	first, err := Listen(context.Background(), "tcp", "127.0.0.1:0", ListenOptions{ReusePort: true})
	if err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	defer first.Close()
	second, err := Listen(context.Background(), "tcp", first.Address(), ListenOptions{ReusePort: true})
	if err != nil {
		t.Fatalf("second Listen on %s: %v", first.Address(), err)
	}
	second.Close()
}

func TestServerServeStopsOnCancel(t *testing.T) {
	server, err := Listen(context.Background(), "tcp", "127.0.0.1:0", ListenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan *StreamAdapter, 1)
	result := make(chan error, 1)
	go func() { result <- server.Serve(ctx, func(a *StreamAdapter) { handled <- a }) }()

	conn, err := net.Dial("tcp", server.Address())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	testutil.RequireReceive(t, handled, testTimeout, "handled connection")

	cancel()
	if err := testutil.RequireReceive(t, result, testTimeout, "Serve returns"); err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
}

func TestUDPExchange(t *testing.T) {
	ctx := context.Background()
	listening := NewUDPAdapter("127.0.0.1:0", "", ListenOptions{Logger: discardLogger()})
	listened := make(chan error, 1)
	go func() { listened <- listening.Connect(ctx) }()
	defer listening.Disconnect(ctx)
	testutil.RequireEventually(t, testTimeout, func() bool { return listening.LocalAddress() != "" },
		"listening side binds")
	if err := listening.Write(ctx, []byte("too early")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write before any datagram = %v, want ErrNotConnected", err)
	}

	dialing := NewUDPAdapter("127.0.0.1:0", listening.LocalAddress(), ListenOptions{Logger: discardLogger()})
	if err := dialing.Connect(ctx); err != nil {
		t.Fatalf("Connect dialing side: %v", err)
	}
	defer dialing.Disconnect(ctx)

	// The listening side connects when the first datagram names its peer.
	if err := dialing.Write(ctx, []byte("hello")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := testutil.RequireReceive(t, listened, testTimeout, "listening side connects"); err != nil {
		t.Fatalf("Connect listening side: %v", err)
	}
	if got := string(receive(t, listening)); got != "hello" {
		t.Fatalf("listening side received %q, want %q", got, "hello")
	}

	exchange(t, dialing, listening, 10)

	if err := dialing.Write(ctx, make([]byte, MaxDatagramSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized Write = %v, want ErrFrameTooLarge", err)
	}

	if err := dialing.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
	requireIncomingClosed(t, dialing)
	if dialing.Err() != nil || dialing.State() != StateDisconnected {
		t.Errorf("after Disconnect: err = %v state = %s", dialing.Err(), dialing.State())
	}
}

func TestUDPListenStopsOnDisconnect(t *testing.T) {
	ctx := context.Background()
	listening := NewUDPAdapter("127.0.0.1:0", "", ListenOptions{Logger: discardLogger()})
	listened := make(chan error, 1)
	go func() { listened <- listening.Connect(ctx) }()
	testutil.RequireEventually(t, testTimeout, func() bool { return listening.LocalAddress() != "" },
		"listening side binds")

	if err := listening.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := testutil.RequireReceive(t, listened, testTimeout, "Connect returns"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connect after Disconnect = %v, want ErrNotConnected", err)
	}
}
