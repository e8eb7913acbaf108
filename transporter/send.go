// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/resonance/correlation"
	"github.com/bureau-foundation/resonance/envelope"
	"github.com/bureau-foundation/resonance/lib/codec"
)

// SendRequest sends request and waits for the single response, which
// is decoded into Resp. The response type comes first so the request
// type can be inferred:
//
//	sum, err := transporter.SendRequest[CalculateResponse](ctx, t, CalculateRequest{A: 10, B: 5})
//
// A peer error comes back as *RemoteError; no response within the
// timeout as an error matching ErrRequestTimeout.
func SendRequest[Resp, Req any](ctx context.Context, t *Transporter, request Req, configs ...RequestConfig) (Resp, error) {
	var zero Resp
	config := firstOr(configs)
	timeout := t.requestTimeout(config.Timeout)

	e, err := t.newEnvelope(envelope.KindRequest, TypeTag[Req](), request)
	if err != nil {
		return zero, err
	}
	e.Timeout = millis(timeout)

	p := correlation.NewPending[*envelope.Envelope](e.Token, e.MessageType, timeout)
	if err := t.pending.Register(p); err != nil {
		return zero, err
	}
	t.logOutgoing(config.LoggingMode, "sending request", e, request)
	if err := t.send(ctx, e, config.Priority); err != nil {
		t.pending.Take(e.Token)
		return zero, err
	}
	t.stats.requestsSent.Add(1)

	response, err := p.Wait(ctx)
	if err != nil {
		return zero, err
	}
	return decodePayload[Resp](t, response)
}

// Stream receives the responses of a continuous request.
type Stream[T any] struct {
	t      *Transporter
	token  string
	values *correlation.Stream[*envelope.Envelope]
}

// Recv returns the next response. After the last one it returns io.EOF
// when the peer completed the request, or the error that ended it.
func (s *Stream[T]) Recv(ctx context.Context) (T, error) {
	e, err := s.values.Recv(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodePayload[T](s.t, e)
}

// Close abandons the request. Later responses from the peer are
// dropped.
func (s *Stream[T]) Close() { s.values.Close() }

// Token returns the request token.
func (s *Stream[T]) Token() string { return s.token }

// SendContinuousRequest sends request and returns a stream of Resp
// values answered by the peer until it completes the request.
func SendContinuousRequest[Resp, Req any](ctx context.Context, t *Transporter, request Req, configs ...ContinuousRequestConfig) (*Stream[Resp], error) {
	config := firstOr(configs)
	timeout := t.requestTimeout(config.Timeout)

	e, err := t.newEnvelope(envelope.KindContinuousRequest, TypeTag[Req](), request)
	if err != nil {
		return nil, err
	}
	e.Timeout = millis(timeout)

	p := correlation.NewContinuous[*envelope.Envelope](e.Token, e.MessageType, timeout, config.ContinuousTimeout)
	if err := t.pending.Register(p); err != nil {
		return nil, err
	}
	t.logOutgoing(config.LoggingMode, "sending continuous request", e, request)
	if err := t.send(ctx, e, config.Priority); err != nil {
		t.pending.Take(e.Token)
		return nil, err
	}
	t.stats.requestsSent.Add(1)
	return &Stream[Resp]{t: t, token: e.Token, values: p.Stream()}, nil
}

// SendResponse answers the request identified by token with message.
func (t *Transporter) SendResponse(ctx context.Context, message any, token string, configs ...ResponseConfig) error {
	config := firstOr(configs)
	e, err := t.newEnvelope(envelope.KindResponse, typeTagOfValue(message), message)
	if err != nil {
		return err
	}
	e.Token = token
	e.Completed = true
	t.logOutgoing(config.LoggingMode, "sending response", e, message)
	return t.send(ctx, e, config.Priority)
}

// SendContinuousResponse sends one response to a continuous request.
// completed marks it as the last one.
func (t *Transporter) SendContinuousResponse(ctx context.Context, message any, token string, completed bool) error {
	e, err := t.newEnvelope(envelope.KindResponse, typeTagOfValue(message), message)
	if err != nil {
		return err
	}
	e.Token = token
	e.Completed = completed
	t.logOutgoing(LoggingDefault, "sending continuous response", e, message)
	return t.send(ctx, e, PriorityNormal)
}

// SendErrorResponse answers the request identified by token with err.
// The peer receives err's message and, when some error in its chain
// implements ErrorCode() string, that code.
func (t *Transporter) SendErrorResponse(ctx context.Context, err error, token string) error {
	e := errorResponse(token, err)
	t.logOutgoing(LoggingDefault, "sending error response", e, e.ErrorMessage)
	return t.send(ctx, e, PriorityNormal)
}

// SendObject sends a one-way message. With MessageConfig.RequireACK it
// waits until the peer's handler has run and returns its error as a
// *RemoteError.
func (t *Transporter) SendObject(ctx context.Context, message any, configs ...MessageConfig) error {
	config := firstOr(configs)
	kind := envelope.KindMessage
	if config.RequireACK {
		kind = envelope.KindMessageSync
	}
	e, err := t.newEnvelope(kind, typeTagOfValue(message), message)
	if err != nil {
		return err
	}

	if !config.RequireACK {
		t.logOutgoing(config.LoggingMode, "sending message", e, message)
		if err := t.send(ctx, e, config.Priority); err != nil {
			return err
		}
		t.stats.requestsSent.Add(1)
		return nil
	}

	timeout := t.requestTimeout(config.Timeout)
	e.Timeout = millis(timeout)
	p := correlation.NewPending[*envelope.Envelope](e.Token, e.MessageType, timeout)
	if err := t.pending.Register(p); err != nil {
		return err
	}
	t.logOutgoing(config.LoggingMode, "sending acknowledged message", e, message)
	if err := t.send(ctx, e, config.Priority); err != nil {
		t.pending.Take(e.Token)
		return err
	}
	t.stats.requestsSent.Add(1)
	_, err = p.Wait(ctx)
	return err
}

// newEnvelope encodes payload and wraps it with a fresh token.
func (t *Transporter) newEnvelope(kind envelope.Kind, messageType string, payload any) (*envelope.Envelope, error) {
	e := &envelope.Envelope{
		Token:       t.tokens.Next(),
		Kind:        kind,
		MessageType: messageType,
	}
	if payload != nil {
		data, err := t.codec.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", messageType, err)
		}
		e.Payload = data
	}
	return e, nil
}

func errorResponse(token string, err error) *envelope.Envelope {
	message := err.Error()
	if message == "" {
		message = fmt.Sprintf("%T", err)
	}
	return &envelope.Envelope{
		Token:        token,
		Kind:         envelope.KindResponse,
		Completed:    true,
		HasError:     true,
		ErrorMessage: message,
		ErrorCode:    errorCode(err),
	}
}

func (t *Transporter) requestTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return t.config.DefaultRequestTimeout
}

// decodePayload decodes e's payload with the codec the peer used. An
// empty payload decodes to the zero value.
func decodePayload[T any](t *Transporter, e *envelope.Envelope) (T, error) {
	var value T
	if len(e.Payload) == 0 {
		return value, nil
	}
	payloadCodec := t.codec
	if e.Transcoding != "" {
		named, err := codec.ByName(e.Transcoding)
		if err != nil {
			return value, &codedError{code: CodeBadPayload, err: err}
		}
		payloadCodec = named
	}
	if err := payloadCodec.Unmarshal(e.Payload, &value); err != nil {
		return value, &codedError{
			code: CodeBadPayload,
			err:  fmt.Errorf("decoding %s payload as %s: %w", e.MessageType, TypeTag[T](), err),
		}
	}
	return value, nil
}

func (t *Transporter) logOutgoing(mode LoggingMode, msg string, e *envelope.Envelope, content any) {
	if mode == LoggingDefault {
		mode = t.config.LoggingMode
	}
	switch mode {
	case LoggingTitle:
		t.logger.Debug(msg, "token", e.Token, "message_type", e.MessageType)
	case LoggingContent:
		t.logger.Debug(msg, "token", e.Token, "message_type", e.MessageType, "content", fmt.Sprintf("%+v", content))
	}
}
