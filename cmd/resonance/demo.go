// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/resonance/transporter"
)

// CalculateRequest asks the server to add two numbers.
type CalculateRequest struct {
	A int `cbor:"1,keyasint" json:"a"`
	B int `cbor:"2,keyasint" json:"b"`
}

func (CalculateRequest) ResonanceType() string { return "resonance.demo.CalculateRequest" }

type CalculateResponse struct {
	Sum int `cbor:"1,keyasint" json:"sum"`
}

func (CalculateResponse) ResonanceType() string { return "resonance.demo.CalculateResponse" }

// ProgressRequest asks for Steps progress updates, one every Interval.
type ProgressRequest struct {
	Steps    int           `cbor:"1,keyasint" json:"steps"`
	Interval time.Duration `cbor:"2,keyasint" json:"interval"`
}

func (ProgressRequest) ResonanceType() string { return "resonance.demo.ProgressRequest" }

type ProgressUpdate struct {
	Step    int    `cbor:"1,keyasint" json:"step"`
	Of      int    `cbor:"2,keyasint" json:"of"`
	Message string `cbor:"3,keyasint" json:"message"`
}

func (ProgressUpdate) ResonanceType() string { return "resonance.demo.ProgressUpdate" }

// Notice is a one-way message the server logs.
type Notice struct {
	Text string `cbor:"1,keyasint" json:"text"`
}

func (Notice) ResonanceType() string { return "resonance.demo.Notice" }

// codedError tags demo handler errors with a code the caller can match.
type codedError struct {
	code    string
	message string
}

func (e *codedError) Error() string     { return e.message }
func (e *codedError) ErrorCode() string { return e.code }

const maxProgressSteps = 1000

// registerDemoHandlers installs the calculator, progress and notice
// handlers on t.
func registerDemoHandlers(t *transporter.Transporter, logger *slog.Logger) error {
	err := transporter.RegisterRequestHandler(t, func(ctx context.Context, request CalculateRequest) (CalculateResponse, error) {
		sum := request.A + request.B
		if (request.B > 0 && sum < request.A) || (request.B < 0 && sum > request.A) {
			return CalculateResponse{}, &codedError{code: "overflow", message: fmt.Sprintf("%d + %d overflows", request.A, request.B)}
		}
		return CalculateResponse{Sum: sum}, nil
	})
	if err != nil {
		return err
	}

	err = transporter.RegisterContinuousRequestHandler(t, func(ctx context.Context, request ProgressRequest, stream *transporter.ResponseStream[ProgressUpdate]) error {
		if request.Steps <= 0 || request.Steps > maxProgressSteps {
			return &codedError{code: "invalid_steps", message: fmt.Sprintf("steps must be between 1 and %d, got %d", maxProgressSteps, request.Steps)}
		}
		for step := 1; step <= request.Steps; step++ {
			if step > 1 && request.Interval > 0 {
				select {
				case <-time.After(request.Interval):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			update := ProgressUpdate{Step: step, Of: request.Steps, Message: fmt.Sprintf("step %d of %d", step, request.Steps)}
			if err := stream.Send(ctx, update); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return transporter.RegisterMessageHandler(t, func(ctx context.Context, notice Notice) error {
		token, _ := transporter.TokenFromContext(ctx)
		logger.Info("notice received", "text", notice.Text, "token", token)
		return nil
	})
}
