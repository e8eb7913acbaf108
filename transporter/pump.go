// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"github.com/bureau-foundation/resonance/adapter"
	"github.com/bureau-foundation/resonance/envelope"
	"github.com/bureau-foundation/resonance/handshake"
)

// pump reads frames in arrival order until the adapter closes Incoming
// or a frame fails the transporter.
func (t *Transporter) pump() {
	for frame := range t.adapter.Incoming() {
		t.stats.framesReceived.Add(1)
		t.stats.bytesReceived.Add(uint64(len(frame)))
		t.lastActivity.Store(t.clock.Now().UnixNano())

		if handshake.IsFrame(frame) {
			t.receiveHandshake(frame)
			continue
		}
		e, err := t.decoder.Decode(frame)
		if err != nil {
			t.fail(&ProtocolError{Err: err})
			return
		}
		if intercept := t.interceptor.Load(); intercept != nil && (*intercept)(e, frame) {
			continue
		}
		if !t.route(e) {
			return
		}
	}

	cause := t.adapter.Err()
	if cause == nil {
		cause = adapter.ErrPeerClosed
	}
	t.fail(&ConnectionError{Op: "receive", Err: cause})
}

func (t *Transporter) receiveHandshake(frame []byte) {
	if t.negotiator == nil {
		t.logger.Warn("dropping handshake frame, handshake is disabled")
		return
	}
	if err := t.negotiator.Receive(frame); err != nil {
		// The negotiator records the failure; Connect reports it.
		t.logger.Warn("handshake message rejected", "error", err)
	}
}

// route dispatches one envelope. It returns false when the pump should
// stop.
func (t *Transporter) route(e *envelope.Envelope) bool {
	switch e.Kind {
	case envelope.KindDisconnect:
		t.logger.Info("peer disconnected", "reason", e.ErrorMessage)
		t.finalize(StateDisconnected, &ConnectionClosedError{Reason: e.ErrorMessage})
		return false

	case envelope.KindKeepAliveRequest:
		if !t.config.KeepAlive.DisableAutoResponse {
			t.post(&envelope.Envelope{Token: e.Token, Kind: envelope.KindKeepAliveResponse}, PriorityHigh)
		}

	case envelope.KindKeepAliveResponse:
		if !t.pending.Resolve(e.Token, e) {
			t.logger.Debug("late keep-alive response", "token", e.Token)
		}

	case envelope.KindResponse:
		t.routeResponse(e)

	case envelope.KindRequest, envelope.KindContinuousRequest, envelope.KindMessage, envelope.KindMessageSync:
		t.emit(RequestReceived{Token: e.Token, MessageType: e.MessageType, Kind: e.Kind})
		t.dispatch(e)
	}
	return true
}

// routeResponse hands a response to whoever is waiting on its token.
func (t *Transporter) routeResponse(e *envelope.Envelope) {
	var delivered bool
	switch {
	case e.HasError:
		delivered = t.pending.Reject(e.Token, &RemoteError{Message: e.ErrorMessage, Code: e.ErrorCode})
	case !e.Completed:
		delivered = t.pending.Emit(e.Token, e)
	case len(e.Payload) == 0:
		// The terminal marker of a continuous response, or an empty
		// acknowledgement of a single request.
		delivered = t.pending.Complete(e.Token) || t.pending.Resolve(e.Token, e)
	default:
		delivered = t.pending.Resolve(e.Token, e)
	}
	if !delivered {
		t.stats.unsolicitedResponses.Add(1)
		t.logger.Warn("dropping unsolicited response",
			"token", e.Token, "message_type", e.MessageType, "has_error", e.HasError)
	}
}
