// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/resonance/lib/clock"
	"github.com/bureau-foundation/resonance/lib/testutil"
)

// countingProvider records which side sealed a password.
type countingProvider struct {
	AgeProvider
	sealed atomic.Int32
}

func (p *countingProvider) Encrypt(plaintext []byte, publicKey string) (string, error) {
	p.sealed.Add(1)
	return p.AgeProvider.Encrypt(plaintext, publicKey)
}

// peer is one side of an in-test negotiation. Frames written by one
// side are delivered to the other by a goroutine, as a transport would.
type peer struct {
	negotiator *Negotiator
	provider   *countingProvider
	outbound   chan []byte

	mu       sync.Mutex
	password []byte
}

func newPeer(t *testing.T, options Options) *peer {
	p := &peer{provider: &countingProvider{}, outbound: make(chan []byte, 16)}
	options.Write = func(frame []byte) error {
		p.outbound <- frame
		return nil
	}
	options.OnSymmetricPassword = func(password []byte) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.password = bytes.Clone(password)
		return nil
	}
	p.negotiator = New(options)
	return p
}

func (p *peer) sessionPassword() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.password
}

func connect(t *testing.T, a, b *peer) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	forward := func(from, to *peer) {
		for {
			select {
			case frame := <-from.outbound:
				_ = to.negotiator.Receive(frame)
			case <-ctx.Done():
				return
			}
		}
	}
	go forward(a, b)
	go forward(b, a)
}

func resetWithID(t *testing.T, p *peer, encryption bool, id int64) {
	t.Helper()
	if err := p.negotiator.Reset(encryption, p.provider); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	p.negotiator.mu.Lock()
	p.negotiator.clientID = id
	p.negotiator.mu.Unlock()
}

func beginBoth(t *testing.T, a, b *peer) (errA, errB error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errA = a.negotiator.Begin(ctx) }()
	go func() { defer wg.Done(); errB = b.negotiator.Begin(ctx) }()
	wg.Wait()
	return errA, errB
}

func TestLargerClientIDGeneratesPassword(t *testing.T) {
	for _, ids := range [][2]int64{{100, 200}, {200, 100}, {-5, 7}} {
		a := newPeer(t, Options{})
		b := newPeer(t, Options{})
		resetWithID(t, a, true, ids[0])
		resetWithID(t, b, true, ids[1])
		connect(t, a, b)

		errA, errB := beginBoth(t, a, b)
		if errA != nil || errB != nil {
			t.Fatalf("ids %v: Begin errors %v, %v", ids, errA, errB)
		}
		for name, p := range map[string]*peer{"a": a, "b": b} {
			if p.negotiator.State() != StateCompleted {
				t.Errorf("ids %v: %s state = %s", ids, name, p.negotiator.State())
			}
			if !p.negotiator.Secure() {
				t.Errorf("ids %v: %s is not secure", ids, name)
			}
		}

		passwordA, passwordB := a.sessionPassword(), b.sessionPassword()
		if len(passwordA) != PasswordSize || !bytes.Equal(passwordA, passwordB) {
			t.Errorf("ids %v: passwords differ or have the wrong size (%d, %d bytes)", ids, len(passwordA), len(passwordB))
		}

		larger, smaller := b, a
		if ids[0] > ids[1] {
			larger, smaller = a, b
		}
		if larger.provider.sealed.Load() != 1 || smaller.provider.sealed.Load() != 0 {
			t.Errorf("ids %v: sealed counts larger=%d smaller=%d, want 1 and 0",
				ids, larger.provider.sealed.Load(), smaller.provider.sealed.Load())
		}
	}
}

func TestOneSidedStart(t *testing.T) {
	a := newPeer(t, Options{})
	b := newPeer(t, Options{})
	resetWithID(t, a, true, 1)
	resetWithID(t, b, true, 2)
	connect(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.negotiator.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	testutil.RequireClosed(t, b.negotiator.Done(), 5*time.Second, "passive side completes")
	if err := b.negotiator.Begin(ctx); err != nil {
		t.Errorf("Begin after passive completion: %v", err)
	}
	if !bytes.Equal(a.sessionPassword(), b.sessionPassword()) {
		t.Error("passwords differ")
	}
}

func TestWithoutEncryption(t *testing.T) {
	a := newPeer(t, Options{})
	b := newPeer(t, Options{})
	resetWithID(t, a, false, 10)
	resetWithID(t, b, false, 20)
	connect(t, a, b)

	errA, errB := beginBoth(t, a, b)
	if errA != nil || errB != nil {
		t.Fatalf("Begin errors %v, %v", errA, errB)
	}
	if a.negotiator.Secure() || b.negotiator.Secure() {
		t.Error("negotiation without encryption reported a secure session")
	}
	if a.sessionPassword() != nil || b.sessionPassword() != nil {
		t.Error("a password was delivered without encryption")
	}
}

func TestEncryptionMismatchDeclines(t *testing.T) {
	a := newPeer(t, Options{})
	b := newPeer(t, Options{})
	resetWithID(t, a, true, 1)
	resetWithID(t, b, false, 2)
	connect(t, a, b)

	errA, errB := beginBoth(t, a, b)
	if !errors.Is(errA, ErrDeclined) || !errors.Is(errB, ErrDeclined) {
		t.Fatalf("Begin errors %v, %v, want ErrDeclined on both", errA, errB)
	}
	if a.negotiator.State() != StateFailed {
		t.Errorf("state = %s, want failed", a.negotiator.State())
	}
}

func TestBeginTimesOut(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	silent := newPeer(t, Options{Clock: fake, Timeout: 3 * time.Second})
	resetWithID(t, silent, true, 1)

	result := make(chan error, 1)
	go func() { result <- silent.negotiator.Begin(context.Background()) }()

	fake.WaitForTimers(1)
	fake.Advance(3 * time.Second)

	err := testutil.RequireReceive(t, result, 5*time.Second, "Begin returns")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Begin error = %v, want ErrTimeout", err)
	}
	if frame := testutil.RequireReceive(t, silent.outbound, time.Second, "request frame"); !IsFrame(frame) {
		t.Error("Begin wrote a non-handshake frame")
	}
	// A late peer message after the timeout changes nothing.
	late, _ := EncodeFrame(&Message{Type: MessageComplete, ClientID: 9})
	if err := silent.negotiator.Receive(late); err != nil {
		t.Errorf("Receive after timeout: %v", err)
	}
	if silent.negotiator.State() != StateFailed {
		t.Errorf("state = %s, want failed", silent.negotiator.State())
	}
}

func TestRequiresReset(t *testing.T) {
	n := New(Options{})
	if err := n.Begin(context.Background()); err == nil {
		t.Error("Begin before Reset succeeded")
	}
	frame, _ := EncodeFrame(&Message{Type: MessageRequest, ClientID: 1})
	if err := n.Receive(frame); err == nil {
		t.Error("Receive before Reset succeeded")
	}
	if err := n.Receive([]byte{0x01, 0x02}); err == nil {
		t.Error("Receive accepted a data frame")
	}
}

func TestResetRegeneratesIdentity(t *testing.T) {
	n := New(Options{})
	if err := n.Reset(true, nil); err != nil {
		t.Fatal(err)
	}
	first := n.ClientID()
	firstKey := n.publicKey
	if err := n.Reset(true, nil); err != nil {
		t.Fatal(err)
	}
	if n.ClientID() == first || n.publicKey == firstKey {
		t.Error("Reset kept the previous client id or key")
	}
	if n.State() != StateIdle {
		t.Errorf("state after Reset = %s", n.State())
	}
}
