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

	"github.com/bureau-foundation/resonance/envelope"
)

// interceptFunc sees a decoded envelope and its raw frame before local
// routing. It returns true when it took the envelope.
type interceptFunc func(e *envelope.Envelope, frame []byte) bool

// ErrRouterBound is returned by Router.Bind when either transporter is
// already bound to another router.
var ErrRouterBound = errors.New("transporter: already bound to a router")

// routedDisconnectTimeout bounds a disconnect the router starts on the
// other transporter.
const routedDisconnectTimeout = 5 * time.Second

// RoutingMode selects which directions a Router forwards.
type RoutingMode uint8

const (
	// RouteTwoWay forwards in both directions.
	RouteTwoWay RoutingMode = iota

	// RouteToTarget forwards envelopes received by the source only.
	RouteToTarget

	// RouteToSource forwards envelopes received by the target only.
	RouteToSource
)

func (m RoutingMode) String() string {
	switch m {
	case RouteTwoWay:
		return "two_way"
	case RouteToTarget:
		return "to_target"
	case RouteToSource:
		return "to_source"
	default:
		return fmt.Sprintf("RoutingMode(%d)", uint8(m))
	}
}

// WritingMode selects how a Router writes to the other side.
type WritingMode uint8

const (
	// WriteStandard re-encodes the decoded envelope with the
	// destination's encoder. Both transporters must use the same
	// codec, since the payload is carried through unchanged.
	WriteStandard WritingMode = iota

	// WriteAdapterDirect queues the received frame as is. Neither
	// transporter may encrypt.
	WriteAdapterDirect
)

func (m WritingMode) String() string {
	switch m {
	case WriteStandard:
		return "standard"
	case WriteAdapterDirect:
		return "adapter_direct"
	default:
		return fmt.Sprintf("WritingMode(%d)", uint8(m))
	}
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Mode    RoutingMode
	Writing WritingMode

	// KeepOnFailure leaves the other transporter connected when one
	// side fails. By default it is disconnected.
	KeepOnFailure bool

	// KeepOnDisconnect stops a peer's disconnect notice from
	// disconnecting the other side.
	KeepOnDisconnect bool

	// Inspect is called with each envelope about to be forwarded and
	// the transporter that received it. Returning true consumes the
	// envelope: it is neither forwarded nor handled locally.
	Inspect func(from *Transporter, e *envelope.Envelope) bool

	Logger *slog.Logger
}

// Router forwards envelopes between two transporters. Tokens are kept,
// so a request entering one side is answered through the other with
// the caller's token. Envelopes answering a request the receiving
// transporter sent itself, keep-alive traffic, and anything arriving
// while the other side is not connected stay local.
type Router struct {
	source  *Transporter
	target  *Transporter
	options RouterOptions
	logger  *slog.Logger

	routed   atomic.Uint64
	consumed atomic.Uint64

	mu          sync.Mutex
	installed   [2]*interceptFunc
	unsubscribe []func()
}

// NewRouter returns an unbound router between source and target.
func NewRouter(source, target *Transporter, options RouterOptions) (*Router, error) {
	if source == nil || target == nil {
		return nil, errors.New("transporter: router needs two transporters")
	}
	if source == target {
		return nil, errors.New("transporter: router cannot route a transporter to itself")
	}
	if options.Mode > RouteToSource {
		return nil, fmt.Errorf("transporter: unknown routing mode %d", uint8(options.Mode))
	}
	switch options.Writing {
	case WriteStandard:
		if source.codec != nil && target.codec != nil && source.codec.ID() != target.codec.ID() {
			return nil, fmt.Errorf("transporter: standard routing needs one codec, have %s and %s",
				source.codec.Name(), target.codec.Name())
		}
	case WriteAdapterDirect:
		if source.config.Cryptography.Enabled || target.config.Cryptography.Enabled {
			return nil, errors.New("transporter: adapter direct routing cannot cross an encrypted transporter")
		}
	default:
		return nil, fmt.Errorf("transporter: unknown writing mode %d", uint8(options.Writing))
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		source:  source,
		target:  target,
		options: options,
		logger: options.Logger.With(
			"router_source", source.Name(),
			"router_target", target.Name(),
			"mode", options.Mode.String()),
	}, nil
}

// Bind starts routing. It may be called before or after the
// transporters connect. Binding a bound router is a no-op.
func (r *Router) Bind() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed[0] != nil {
		return nil
	}

	toTarget := r.intercept(r.source, r.target, r.options.Mode != RouteToSource)
	toSource := r.intercept(r.target, r.source, r.options.Mode != RouteToTarget)
	if !r.source.interceptor.CompareAndSwap(nil, &toTarget) {
		return fmt.Errorf("%w: %s", ErrRouterBound, r.source.Name())
	}
	if !r.target.interceptor.CompareAndSwap(nil, &toSource) {
		r.source.interceptor.CompareAndSwap(&toTarget, nil)
		return fmt.Errorf("%w: %s", ErrRouterBound, r.target.Name())
	}
	r.installed = [2]*interceptFunc{&toTarget, &toSource}

	if !r.options.KeepOnFailure {
		r.unsubscribe = append(r.unsubscribe,
			r.source.Subscribe(r.propagateFailure(r.target, "source")),
			r.target.Subscribe(r.propagateFailure(r.source, "target")))
	}
	r.logger.Debug("router bound", "writing", r.options.Writing.String())
	return nil
}

// Unbind stops routing. Envelopes already forwarded are unaffected.
func (r *Router) Unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed[0] == nil {
		return
	}
	r.source.interceptor.CompareAndSwap(r.installed[0], nil)
	r.target.interceptor.CompareAndSwap(r.installed[1], nil)
	r.installed = [2]*interceptFunc{}
	for _, unsubscribe := range r.unsubscribe {
		unsubscribe()
	}
	r.unsubscribe = nil
	r.logger.Debug("router unbound")
}

// Bound reports whether the router is routing.
func (r *Router) Bound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed[0] != nil
}

// Routed returns the number of envelopes forwarded in either direction.
func (r *Router) Routed() uint64 { return r.routed.Load() }

// Consumed returns the number of envelopes taken by Inspect.
func (r *Router) Consumed() uint64 { return r.consumed.Load() }

func (r *Router) intercept(from, to *Transporter, forward bool) interceptFunc {
	return func(e *envelope.Envelope, frame []byte) bool {
		switch e.Kind {
		case envelope.KindKeepAliveRequest, envelope.KindKeepAliveResponse:
			return false
		case envelope.KindDisconnect:
			if forward && !r.options.KeepOnDisconnect {
				r.disconnect(to, e.ErrorMessage)
			}
			return false
		}
		if !forward {
			return false
		}
		if _, ok := from.pending.Lookup(e.Token); ok {
			return false
		}
		if r.options.Inspect != nil && r.options.Inspect(from, e) {
			r.consumed.Add(1)
			return true
		}
		if state := to.State(); state != StateConnected {
			r.logger.Debug("not routing, destination is not connected",
				"token", e.Token, "kind", e.Kind, "destination_state", state.String())
			return false
		}

		var err error
		if r.options.Writing == WriteAdapterDirect {
			err = to.relayFrame(frame)
		} else {
			err = to.relay(e)
		}
		if err != nil {
			r.logger.Warn("routing envelope", "token", e.Token, "kind", e.Kind, "error", err)
			return false
		}
		r.routed.Add(1)
		return true
	}
}

func (r *Router) propagateFailure(other *Transporter, side string) func(Event) {
	return func(event Event) {
		failed, ok := event.(Failed)
		if !ok {
			return
		}
		r.disconnect(other, fmt.Sprintf("routed %s transporter failed: %v", side, failed.Err))
	}
}

// disconnect runs off the caller's goroutine, which is usually a
// receive pump.
func (r *Router) disconnect(t *Transporter, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), routedDisconnectTimeout)
		defer cancel()
		if err := t.Disconnect(ctx, reason); err != nil {
			r.logger.Debug("routed disconnect", "transporter", t.Name(), "error", err)
		}
	}()
}

// relay queues an envelope decoded by another transporter.
func (t *Transporter) relay(e *envelope.Envelope) error {
	frame, err := t.encoder.Encode(e)
	if err != nil {
		return err
	}
	return t.relayFrame(frame)
}

// relayFrame queues a frame that is already encoded.
func (t *Transporter) relayFrame(frame []byte) error {
	return t.queue.push(&outbound{frame: frame, priority: PriorityNormal})
}
