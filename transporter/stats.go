// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import "sync/atomic"

// Statistics is a snapshot of a transporter's traffic counters.
type Statistics struct {
	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64

	// RequestsSent counts requests, continuous requests and messages.
	RequestsSent uint64

	// HandlerInvocations counts inbound requests and messages that
	// reached a handler.
	HandlerInvocations uint64

	// UnsolicitedResponses counts responses nobody was waiting for.
	UnsolicitedResponses uint64
}

type statistics struct {
	framesSent           atomic.Uint64
	framesReceived       atomic.Uint64
	bytesSent            atomic.Uint64
	bytesReceived        atomic.Uint64
	requestsSent         atomic.Uint64
	handlerInvocations   atomic.Uint64
	unsolicitedResponses atomic.Uint64
}

// Statistics returns the current counters.
func (t *Transporter) Statistics() Statistics {
	return Statistics{
		FramesSent:           t.stats.framesSent.Load(),
		FramesReceived:       t.stats.framesReceived.Load(),
		BytesSent:            t.stats.bytesSent.Load(),
		BytesReceived:        t.stats.bytesReceived.Load(),
		RequestsSent:         t.stats.requestsSent.Load(),
		HandlerInvocations:   t.stats.handlerInvocations.Load(),
		UnsolicitedResponses: t.stats.unsolicitedResponses.Load(),
	}
}
