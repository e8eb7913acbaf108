// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/resonance/lib/clock"
)

// DefaultTimeout bounds Begin when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// PasswordSize is the length of the generated session password.
const PasswordSize = 32

var (
	// ErrTimeout is returned by Begin when the peer did not finish the
	// negotiation within the timeout.
	ErrTimeout = errors.New("handshake timed out")

	// ErrDeclined is returned when the peers disagree about encryption.
	ErrDeclined = errors.New("handshake declined: peers disagree about encryption")

	errNotReset = errors.New("handshake: Reset must be called first")
)

// State is the negotiation state.
type State int

const (
	StateIdle State = iota
	StateInProgress
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Negotiator.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// Timeout bounds Begin. Zero selects DefaultTimeout.
	Timeout time.Duration

	// Write sends a handshake frame to the peer. It is called with the
	// negotiator's lock held and must not block on the receive path.
	Write func(frame []byte) error

	// OnSymmetricPassword receives the session password on both peers
	// before either reports completion. An error fails the
	// negotiation.
	OnSymmetricPassword func(password []byte) error
}

// Negotiator runs one side of the handshake.
type Negotiator struct {
	logger  *slog.Logger
	clock   clock.Clock
	timeout time.Duration
	write   func([]byte) error
	onKey   func([]byte) error

	mu         sync.Mutex
	wasReset   bool
	state      State
	clientID   int64
	encryption bool
	provider   CryptoProvider
	publicKey  string
	privateKey string
	secure     bool
	done       chan struct{}
	err        error
}

// New returns a negotiator. Reset must be called before Begin or
// Receive.
func New(options Options) *Negotiator {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	return &Negotiator{
		logger:  options.Logger,
		clock:   clock.OrReal(options.Clock),
		timeout: options.Timeout,
		write:   options.Write,
		onKey:   options.OnSymmetricPassword,
	}
}

// Reset starts a fresh negotiation: new ClientID, new keypair, state
// Idle. A nil provider selects AgeProvider.
func (n *Negotiator) Reset(enableEncryption bool, provider CryptoProvider) error {
	if provider == nil {
		provider = AgeProvider{}
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return fmt.Errorf("generating client id: %w", err)
	}
	publicKey, privateKey, err := provider.CreateKeys()
	if err != nil {
		return fmt.Errorf("creating handshake keys: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.wasReset = true
	n.state = StateIdle
	n.clientID = int64(binary.LittleEndian.Uint64(raw[:]))
	n.encryption = enableEncryption
	n.provider = provider
	n.publicKey = publicKey
	n.privateKey = privateKey
	n.secure = false
	n.done = make(chan struct{})
	n.err = nil
	return nil
}

// ClientID returns the tie-break identifier of the current negotiation.
func (n *Negotiator) ClientID() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clientID
}

// State returns the negotiation state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Secure reports whether a session password was exchanged.
func (n *Negotiator) Secure() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.secure
}

// Done is closed when the negotiation completes or fails.
func (n *Negotiator) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.done
}

// Err returns the failure, nil while running or after completion.
func (n *Negotiator) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Begin sends this side's Request (unless a peer Request already
// triggered it) and waits for the negotiation to finish.
func (n *Negotiator) Begin(ctx context.Context) error {
	n.mu.Lock()
	if !n.wasReset {
		n.mu.Unlock()
		return errNotReset
	}
	done := n.done
	if n.state == StateIdle {
		n.state = StateInProgress
		n.logger.Debug("sending handshake request", "client_id", n.clientID, "encryption", n.encryption)
		if err := n.sendLocked(n.requestLocked()); err != nil {
			n.mu.Unlock()
			return err
		}
	}
	n.mu.Unlock()

	expired := n.clock.After(n.timeout)
	select {
	case <-done:
		return n.Err()
	case <-expired:
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.state == StateCompleted || n.state == StateFailed {
			return n.err
		}
		n.failLocked(fmt.Errorf("%w after %v", ErrTimeout, n.timeout))
		return n.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive feeds one handshake frame from the peer into the state
// machine.
func (n *Negotiator) Receive(frame []byte) error {
	message, err := DecodeFrame(frame)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.wasReset {
		return errNotReset
	}
	if n.state == StateCompleted || n.state == StateFailed {
		n.logger.Debug("ignoring handshake message after negotiation ended",
			"message", message.Type, "state", n.state)
		return nil
	}

	switch message.Type {
	case MessageRequest:
		return n.onRequestLocked(message)
	case MessageResponse:
		return n.onResponseLocked(message)
	case MessageComplete:
		n.completeLocked()
		return nil
	case MessageDecline:
		n.failLocked(ErrDeclined)
		return n.err
	default:
		return fmt.Errorf("unknown handshake message type %d", uint8(message.Type))
	}
}

func (n *Negotiator) onRequestLocked(request *Message) error {
	if request.ClientID == n.clientID {
		n.failLocked(errors.New("handshake: peer has the same client id"))
		return n.err
	}
	wasIdle := n.state == StateIdle
	n.state = StateInProgress

	if request.RequireEncryption != n.encryption {
		n.logger.Warn("peer disagrees about encryption, declining handshake",
			"local_encryption", n.encryption, "peer_encryption", request.RequireEncryption)
		if err := n.sendLocked(&Message{Type: MessageDecline, ClientID: n.clientID}); err != nil {
			return err
		}
		n.failLocked(ErrDeclined)
		return n.err
	}

	if wasIdle {
		n.logger.Debug("answering peer handshake request with our own", "client_id", n.clientID)
		if err := n.sendLocked(n.requestLocked()); err != nil {
			return err
		}
	}

	if n.clientID < request.ClientID {
		// The peer generates the password and sends the Response.
		return nil
	}

	response := &Message{
		Type:              MessageResponse,
		ClientID:          n.clientID,
		RequireEncryption: n.encryption,
		PublicKey:         n.publicKey,
	}
	if n.encryption {
		password := make([]byte, PasswordSize)
		if _, err := rand.Read(password); err != nil {
			n.failLocked(fmt.Errorf("generating session password: %w", err))
			return n.err
		}
		sealedPassword, err := n.provider.Encrypt(password, request.PublicKey)
		if err != nil {
			n.failLocked(fmt.Errorf("sealing session password: %w", err))
			return n.err
		}
		if err := n.deliverPasswordLocked(password); err != nil {
			return err
		}
		response.SymmetricPassword = sealedPassword
	}
	n.logger.Debug("sending handshake response", "client_id", n.clientID, "peer_client_id", request.ClientID)
	return n.sendLocked(response)
}

func (n *Negotiator) onResponseLocked(response *Message) error {
	if response.ClientID <= n.clientID {
		n.logger.Debug("ignoring handshake response from the smaller peer",
			"client_id", n.clientID, "peer_client_id", response.ClientID)
		return nil
	}
	if n.encryption && response.RequireEncryption {
		password, err := n.provider.Decrypt(response.SymmetricPassword, n.privateKey)
		if err != nil {
			n.failLocked(fmt.Errorf("opening session password: %w", err))
			return n.err
		}
		if err := n.deliverPasswordLocked(password); err != nil {
			return err
		}
	}
	if err := n.sendLocked(&Message{Type: MessageComplete, ClientID: n.clientID}); err != nil {
		return err
	}
	n.completeLocked()
	return nil
}

func (n *Negotiator) deliverPasswordLocked(password []byte) error {
	if n.onKey != nil {
		if err := n.onKey(password); err != nil {
			n.failLocked(fmt.Errorf("installing session password: %w", err))
			return n.err
		}
	}
	n.secure = true
	return nil
}

func (n *Negotiator) requestLocked() *Message {
	return &Message{
		Type:              MessageRequest,
		ClientID:          n.clientID,
		RequireEncryption: n.encryption,
		PublicKey:         n.publicKey,
	}
}

func (n *Negotiator) sendLocked(message *Message) error {
	frame, err := EncodeFrame(message)
	if err == nil && n.write != nil {
		err = n.write(frame)
	}
	if err != nil {
		n.failLocked(fmt.Errorf("writing handshake %s: %w", message.Type, err))
		return n.err
	}
	return nil
}

func (n *Negotiator) completeLocked() {
	n.state = StateCompleted
	n.logger.Info("handshake completed", "client_id", n.clientID, "secure", n.secure)
	close(n.done)
}

func (n *Negotiator) failLocked(err error) {
	if n.state == StateFailed || n.state == StateCompleted {
		return
	}
	n.state = StateFailed
	n.err = err
	close(n.done)
}
