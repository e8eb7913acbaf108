// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/bureau-foundation/resonance/envelope"
)

type handlerKind int

const (
	handleRequest handlerKind = iota
	handleContinuous
	handleMessage
)

func (k handlerKind) accepts(kind envelope.Kind) bool {
	switch k {
	case handleRequest:
		return kind == envelope.KindRequest
	case handleContinuous:
		return kind == envelope.KindContinuousRequest
	case handleMessage:
		return kind == envelope.KindMessage || kind == envelope.KindMessageSync
	}
	return false
}

// handler is a registered callback with its payload type erased. run
// decodes the payload and performs the typed call, sending any
// response itself; a returned error is reported to the peer by
// dispatch.
type handler struct {
	kind handlerKind
	run  func(ctx context.Context, e *envelope.Envelope) error
}

type tokenKey struct{}

// TokenFromContext returns the token of the inbound request a handler
// is serving.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok
}

func (t *Transporter) register(messageType string, h *handler) error {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	if _, exists := t.handlers[messageType]; exists {
		return fmt.Errorf("%w for %s", ErrHandlerExists, messageType)
	}
	t.handlers[messageType] = h
	return nil
}

// RegisterRequestHandler routes requests of type Req to fn. The value
// fn returns is sent as the response; an error is sent as an error
// response, with the code of any error in its chain that implements
// ErrorCode() string.
func RegisterRequestHandler[Req, Resp any](t *Transporter, fn func(ctx context.Context, request Req) (Resp, error)) error {
	return t.register(TypeTag[Req](), &handler{
		kind: handleRequest,
		run: func(ctx context.Context, e *envelope.Envelope) error {
			request, err := decodePayload[Req](t, e)
			if err != nil {
				return err
			}
			response, err := fn(ctx, request)
			if err != nil {
				return err
			}
			return t.SendResponse(ctx, response, e.Token)
		},
	})
}

// ResponseStream is handed to a continuous request handler for sending
// its responses.
type ResponseStream[T any] struct {
	t     *Transporter
	token string
}

// Send delivers one response. The request stays open.
func (s *ResponseStream[T]) Send(ctx context.Context, value T) error {
	return s.t.SendContinuousResponse(ctx, value, s.token, false)
}

// Token returns the token of the request being answered.
func (s *ResponseStream[T]) Token() string { return s.token }

// RegisterContinuousRequestHandler routes continuous requests of type
// Req to fn. fn sends any number of responses through the stream; when
// it returns nil the request is completed, and when it returns an
// error the error ends the request on the peer.
func RegisterContinuousRequestHandler[Req, Resp any](t *Transporter, fn func(ctx context.Context, request Req, stream *ResponseStream[Resp]) error) error {
	return t.register(TypeTag[Req](), &handler{
		kind: handleContinuous,
		run: func(ctx context.Context, e *envelope.Envelope) error {
			request, err := decodePayload[Req](t, e)
			if err != nil {
				return err
			}
			if err := fn(ctx, request, &ResponseStream[Resp]{t: t, token: e.Token}); err != nil {
				return err
			}
			return t.send(ctx, &envelope.Envelope{
				Token:       e.Token,
				Kind:        envelope.KindResponse,
				MessageType: TypeTag[Resp](),
				Completed:   true,
			}, PriorityNormal)
		},
	})
}

// RegisterMessageHandler routes one-way messages of type Msg to fn.
// For acknowledged messages the peer learns whether fn returned an
// error.
func RegisterMessageHandler[Msg any](t *Transporter, fn func(ctx context.Context, message Msg) error) error {
	return t.register(TypeTag[Msg](), &handler{
		kind: handleMessage,
		run: func(ctx context.Context, e *envelope.Envelope) error {
			message, err := decodePayload[Msg](t, e)
			if err != nil {
				return err
			}
			return fn(ctx, message)
		},
	})
}

// UnregisterHandler removes the handler for T and reports whether one
// was registered.
func UnregisterHandler[T any](t *Transporter) bool {
	tag := TypeTag[T]()
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	if _, ok := t.handlers[tag]; !ok {
		return false
	}
	delete(t.handlers, tag)
	return true
}

// dispatch runs the handler for e on its own goroutine. Requests with
// no handler are answered with a CodeNoHandler error so the caller
// does not wait out its timeout.
func (t *Transporter) dispatch(e *envelope.Envelope) {
	t.handlersMu.RLock()
	h, ok := t.handlers[e.MessageType]
	t.handlersMu.RUnlock()

	if e.Kind == envelope.KindMessageSync && t.config.MessageAck == AckOnReceipt {
		t.post(&envelope.Envelope{Token: e.Token, Kind: envelope.KindResponse, Completed: true}, PriorityHigh)
		acknowledged := *e
		acknowledged.Kind = envelope.KindMessage
		e = &acknowledged
	}

	if !ok || !h.kind.accepts(e.Kind) {
		if e.Kind == envelope.KindMessage {
			t.logger.Warn("no handler for message, dropping", "message_type", e.MessageType, "token", e.Token)
			return
		}
		t.logger.Warn("no handler for request", "message_type", e.MessageType, "kind", e.Kind, "token", e.Token)
		t.post(errorResponse(e.Token, &codedError{
			code: CodeNoHandler,
			err:  fmt.Errorf("no %s handler registered for %s", e.Kind, e.MessageType),
		}), PriorityNormal)
		return
	}

	t.stats.handlerInvocations.Add(1)
	go t.invoke(h, e)
}

func (t *Transporter) invoke(h *handler, e *envelope.Envelope) {
	ctx := context.WithValue(t.lifetime, tokenKey{}, e.Token)
	err := t.runHandler(ctx, h, e)

	switch e.Kind {
	case envelope.KindMessage:
		if err != nil {
			t.logger.Warn("message handler failed", "message_type", e.MessageType, "token", e.Token, "error", err)
		}
		return
	case envelope.KindMessageSync:
		if err == nil {
			err = t.send(ctx, &envelope.Envelope{Token: e.Token, Kind: envelope.KindResponse, Completed: true}, PriorityNormal)
			if err != nil {
				t.logger.Debug("acknowledgement not sent", "token", e.Token, "error", err)
			}
			return
		}
	}
	if err == nil {
		return
	}
	if errors.Is(err, ErrDisconnected) || errors.Is(err, ErrNotConnected) {
		t.logger.Debug("handler finished after disconnect", "token", e.Token, "error", err)
		return
	}
	t.logger.Debug("handler returned an error", "message_type", e.MessageType, "token", e.Token, "error", err)
	if sendErr := t.SendErrorResponse(ctx, err, e.Token); sendErr != nil {
		t.logger.Debug("error response not sent", "token", e.Token, "error", sendErr)
	}
}

// runHandler calls h and turns a panic into an error.
func (t *Transporter) runHandler(ctx context.Context, h *handler, e *envelope.Envelope) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			t.logger.Error("handler panicked",
				"message_type", e.MessageType, "token", e.Token,
				"panic", recovered, "stack", string(debug.Stack()))
			err = &codedError{code: CodeHandlerPanic, err: fmt.Errorf("handler for %s panicked: %v", e.MessageType, recovered)}
		}
	}()
	return h.run(ctx, e)
}
