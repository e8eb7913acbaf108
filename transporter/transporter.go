// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/resonance/adapter"
	"github.com/bureau-foundation/resonance/correlation"
	"github.com/bureau-foundation/resonance/envelope"
	"github.com/bureau-foundation/resonance/handshake"
	"github.com/bureau-foundation/resonance/keepalive"
	"github.com/bureau-foundation/resonance/lib/clock"
	"github.com/bureau-foundation/resonance/lib/codec"
	"github.com/bureau-foundation/resonance/lib/compress"
	"github.com/bureau-foundation/resonance/lib/symmetric"
)

const (
	// releaseTimeout bounds the adapter Disconnect during shutdown.
	releaseTimeout = 5 * time.Second

	// handshakeFlushTimeout bounds the wait for queued handshake frames
	// after a failed handshake.
	handshakeFlushTimeout = time.Second
)

// State is the transporter's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transporter is a request/response and messaging channel over one
// adapter. Create it with New, register handlers, then Connect.
type Transporter struct {
	name    string
	config  Config
	logger  *slog.Logger
	clock   clock.Clock
	adapter adapter.Adapter
	codec   codec.Codec
	tokens  correlation.TokenGenerator

	// transcoder is nil when Config supplies its own Encoder/Decoder.
	transcoder *envelope.Transcoder
	encoder    envelope.Encoder
	decoder    envelope.Decoder

	pending    *correlation.Registry[*envelope.Envelope]
	negotiator *handshake.Negotiator
	monitor    *keepalive.Monitor
	queue      *sendQueue

	// ready is closed once data frames may be sent: after the
	// handshake, or right after the adapter connects when it is
	// disabled.
	ready chan struct{}

	// lifetime ends when the transporter leaves the connected states.
	lifetime     context.Context
	stopLifetime context.CancelFunc

	// lastActivity is the clock time of the last inbound frame in
	// Unix nanoseconds.
	lastActivity atomic.Int64
	stats        statistics

	// interceptor sees every decoded envelope before it is routed
	// locally. Set while a Router is bound.
	interceptor atomic.Pointer[interceptFunc]

	mu      sync.Mutex
	state   State
	used    bool
	closing bool
	ended   bool
	failure error

	handlersMu sync.RWMutex
	handlers   map[string]*handler

	eventsMu       sync.Mutex
	subscribers    []subscriber
	nextSubscriber int
}

// New returns a transporter over a. The config is validated here.
func New(a adapter.Adapter, config Config) (*Transporter, error) {
	if a == nil {
		return nil, errors.New("transporter: nil adapter")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transporter config: %w", err)
	}
	config = config.withDefaults()
	name := config.Name
	if name == "" {
		name = a.Name()
	}

	t := &Transporter{
		name:     name,
		config:   config,
		logger:   config.Logger.With("transporter", name),
		clock:    config.Clock,
		adapter:  a,
		codec:    config.Codec,
		tokens:   config.TokenGenerator,
		queue:    newSendQueue(),
		ready:    make(chan struct{}),
		handlers: make(map[string]*handler),
	}
	t.lifetime, t.stopLifetime = context.WithCancel(context.Background())
	t.pending = correlation.New[*envelope.Envelope](correlation.Options{
		Clock:  config.Clock,
		Shards: config.RegistryShards,
	})

	if config.Encoder != nil {
		t.encoder, t.decoder = config.Encoder, config.Decoder
	} else {
		options := envelope.TranscoderOptions{Codec: config.Codec}
		if config.Compression.Enabled {
			options.Compression = config.Compression.Algorithm
			options.CompressionMinSize = config.Compression.MinSize
		} else {
			options.Compression = compress.None
		}
		t.transcoder = envelope.NewTranscoder(options)
		t.encoder, t.decoder = t.transcoder, t.transcoder
	}

	if !config.Handshake.Disabled {
		t.negotiator = handshake.New(handshake.Options{
			Logger:              t.logger,
			Clock:               config.Clock,
			Timeout:             config.Handshake.Timeout,
			Write:               t.writeHandshake,
			OnSymmetricPassword: t.installSessionKey,
		})
	}
	t.monitor = keepalive.New(config.KeepAlive, keepalive.ProberFunc(t.probe), keepalive.Options{
		Logger:       t.logger,
		Clock:        config.Clock,
		LastActivity: t.lastActivityTime,
		OnExpired:    t.keepAliveExpired,
	})
	return t, nil
}

// Name returns the transporter's log name.
func (t *Transporter) Name() string { return t.name }

// State returns the connection state.
func (t *Transporter) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// FailedStateError returns the error that moved the transporter to
// StateFailed, or nil.
func (t *Transporter) FailedStateError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

// IsChannelSecure reports whether frames are encrypted with a
// negotiated session key.
func (t *Transporter) IsChannelSecure() bool {
	return t.transcoder != nil && t.transcoder.Secure()
}

// PendingCount returns the number of requests awaiting a response,
// including keep-alive probes.
func (t *Transporter) PendingCount() int { return t.pending.Len() }

// Connect brings the adapter up, runs the handshake and starts the
// keep-alive monitor. A transporter connects at most once.
func (t *Transporter) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.used {
		t.mu.Unlock()
		return ErrAlreadyUsed
	}
	t.used = true
	t.state = StateConnecting
	t.mu.Unlock()
	t.emit(StateChanged{Previous: StateDisconnected, Current: StateConnecting})
	t.logger.Info("connecting", "adapter", t.adapter.Name())

	if err := t.adapter.Connect(ctx); err != nil {
		connectErr := &ConnectionError{Op: "connect", Err: err}
		t.fail(connectErr)
		return connectErr
	}

	if t.negotiator != nil {
		if err := t.negotiator.Reset(t.config.Cryptography.Enabled, t.config.Cryptography.Provider); err != nil {
			t.fail(err)
			return err
		}
	}
	go t.writeLoop()
	go t.pump()

	if t.negotiator != nil {
		handshakeCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(t.lifetime, cancel)
		err := t.negotiator.Begin(handshakeCtx)
		stop()
		cancel()
		if err != nil {
			if negotiated := t.negotiator.Err(); negotiated != nil {
				err = negotiated
			} else if t.lifetime.Err() != nil {
				return t.endedError()
			}
			// Let the peer see our Decline before the link drops.
			t.flush(handshakeFlushTimeout)
			t.fail(err)
			return err
		}
	}
	close(t.ready)

	t.mu.Lock()
	if t.state != StateConnecting {
		t.mu.Unlock()
		return t.endedError()
	}
	t.state = StateConnected
	t.mu.Unlock()

	t.monitor.Start(t.lifetime)
	t.logger.Info("connected", "secure", t.IsChannelSecure())
	t.emit(StateChanged{Previous: StateConnecting, Current: StateConnected})
	return nil
}

// endedError describes why an operation found the transporter down.
func (t *Transporter) endedError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return disconnectedBy(t.failure)
}

// Disconnect tells the peer, releases the adapter and rejects every
// pending request with ErrDisconnected. reason is passed to the peer.
// It is a no-op on a transporter that is not connecting or connected.
func (t *Transporter) Disconnect(ctx context.Context, reason string) error {
	t.mu.Lock()
	if !t.used || t.ended || t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	state := t.state
	t.mu.Unlock()

	t.logger.Info("disconnecting", "reason", reason)
	if state == StateConnected {
		farewell := &envelope.Envelope{
			Token:        t.tokens.Next(),
			Kind:         envelope.KindDisconnect,
			ErrorMessage: reason,
		}
		if err := t.send(ctx, farewell, PriorityHigh); err != nil {
			t.logger.Debug("could not deliver disconnect to peer", "error", err)
		}
	}
	t.finalize(StateDisconnected, nil)
	return nil
}

// fail moves the transporter to StateFailed with cause.
func (t *Transporter) fail(cause error) {
	t.finalize(StateFailed, cause)
}

// finalize is the single exit path. It runs once; later calls return
// without effect. cause is nil only for a local Disconnect.
func (t *Transporter) finalize(target State, cause error) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	previous := t.state
	t.state = target
	if target == StateFailed {
		t.failure = cause
	}
	t.mu.Unlock()

	t.stopLifetime()
	t.monitor.Stop()
	rejection := disconnectedBy(cause)
	t.queue.close(rejection)
	if rejected := t.pending.RejectAll(rejection); rejected > 0 {
		t.logger.Debug("rejected pending requests", "count", rejected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	if err := t.adapter.Disconnect(ctx); err != nil {
		t.logger.Debug("releasing adapter", "error", err)
	}
	cancel()

	if target == StateFailed {
		t.logger.Error("transporter failed", "error", cause)
	} else {
		t.logger.Info("disconnected", "cause", cause)
	}

	events := []Event{StateChanged{Previous: previous, Current: target}}
	if cause != nil && previous == StateConnected {
		events = append(events, ConnectionLost{Err: cause, FailTransporter: target == StateFailed})
	}
	if target == StateFailed {
		events = append(events, Failed{Err: cause})
	}
	t.emit(events...)
}

// writeHandshake queues a handshake frame. It never blocks, which the
// negotiator requires.
func (t *Transporter) writeHandshake(frame []byte) error {
	return t.queue.push(&outbound{frame: frame, priority: PriorityHigh})
}

// installSessionKey switches the transcoder to the negotiated key.
func (t *Transporter) installSessionKey(password []byte) error {
	if t.transcoder == nil {
		return errors.New("session key negotiated without the built-in transcoder")
	}
	cipher, err := symmetric.New(password)
	if err != nil {
		return err
	}
	if err := t.transcoder.InstallCipher(cipher); err != nil {
		return err
	}
	t.logger.Debug("session key installed", "fingerprint", cipher.Fingerprint())
	return nil
}

func (t *Transporter) writeLoop() {
	for {
		item, ok := t.queue.pop(t.lifetime)
		if !ok {
			return
		}
		if item.frame == nil {
			item.done <- nil
			continue
		}
		err := t.adapter.Write(t.lifetime, item.frame)
		if item.done != nil {
			item.done <- err
		}
		switch {
		case err == nil:
			t.stats.framesSent.Add(1)
			t.stats.bytesSent.Add(uint64(len(item.frame)))
		case errors.Is(err, adapter.ErrFrameTooLarge):
			t.logger.Warn("dropped oversized frame", "bytes", len(item.frame))
		default:
			t.fail(&ConnectionError{Op: "send", Err: err})
			return
		}
	}
}

// flush waits until every frame queued so far has been written, or
// timeout elapses.
func (t *Transporter) flush(timeout time.Duration) {
	marker := &outbound{priority: PriorityLow, done: make(chan error, 1)}
	if t.queue.push(marker) != nil {
		return
	}
	select {
	case <-marker.done:
	case <-time.After(timeout):
	case <-t.lifetime.Done():
	}
}

// awaitReady blocks until data frames may be sent.
func (t *Transporter) awaitReady(ctx context.Context) error {
	t.mu.Lock()
	used, ended := t.used, t.ended
	t.mu.Unlock()
	if !used {
		return ErrNotConnected
	}
	if ended {
		return t.endedError()
	}
	select {
	case <-t.ready:
		return nil
	case <-t.lifetime.Done():
		return t.endedError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send encodes e and waits until the writer has handed it to the
// adapter.
func (t *Transporter) send(ctx context.Context, e *envelope.Envelope, priority Priority) error {
	if err := t.awaitReady(ctx); err != nil {
		return err
	}
	frame, err := t.encoder.Encode(e)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", e.Kind, err)
	}
	done := make(chan error, 1)
	if err := t.queue.push(&outbound{frame: frame, priority: priority, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, ErrDisconnected) {
			return &ConnectionError{Op: "send", Err: err}
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post encodes e and queues it without waiting. Used from the receive
// pump, which must never block on the writer.
func (t *Transporter) post(e *envelope.Envelope, priority Priority) {
	frame, err := t.encoder.Encode(e)
	if err != nil {
		t.logger.Warn("encoding reply", "kind", e.Kind, "token", e.Token, "error", err)
		return
	}
	if err := t.queue.push(&outbound{frame: frame, priority: priority}); err != nil {
		t.logger.Debug("reply not sent", "kind", e.Kind, "token", e.Token, "error", err)
	}
}

func (t *Transporter) lastActivityTime() time.Time {
	nanos := t.lastActivity.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// probe sends one keep-alive request and waits for the reply.
func (t *Transporter) probe(ctx context.Context, timeout time.Duration) error {
	token := t.tokens.Next()
	p := correlation.NewPending[*envelope.Envelope](token, "", timeout)
	if err := t.pending.Register(p); err != nil {
		return err
	}
	request := &envelope.Envelope{
		Token:   token,
		Kind:    envelope.KindKeepAliveRequest,
		Timeout: millis(timeout),
	}
	if err := t.send(ctx, request, PriorityLow); err != nil {
		t.pending.Take(token)
		return err
	}
	_, err := p.Wait(ctx)
	return err
}

func (t *Transporter) keepAliveExpired(err error) {
	t.emit(KeepAliveFailed{Err: err})
	if t.config.KeepAlive.FailTransporterOnTimeout {
		t.fail(err)
	}
}

func millis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(min(d.Milliseconds(), int64(^uint32(0))))
}
