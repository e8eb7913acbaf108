// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/resonance/lib/config"
	"github.com/bureau-foundation/resonance/lib/process"
	"github.com/bureau-foundation/resonance/lib/version"
	"github.com/bureau-foundation/resonance/transporter"
)

func root() *command {
	return newRoot(os.Stdout)
}

// newRoot builds the command tree. Command results are written to
// stdout; logs go to stderr.
func newRoot(stdout io.Writer) *command {
	return &command{
		Name:    "resonance",
		Summary: "Serve and call Resonance demo endpoints",
		output:  stdout,
		Subcommands: []*command{
			serveCommand(),
			callCommand(stdout),
			progressCommand(stdout),
			notifyCommand(),
			versionCommand(stdout),
		},
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func serveCommand() *command {
	var endpoint endpointFlags
	return &command{
		Name:    "serve",
		Summary: "Answer calculator, progress and notice requests",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("serve")
			endpoint.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return process.Usagef("serve takes no arguments, got %q", args)
			}
			f, logger, err := endpoint.setup()
			if err != nil {
				return err
			}
			ctx, stop := process.SignalContext(context.Background())
			defer stop()
			return serve(ctx, f, logger, nil)
		},
	}
}

func callCommand(stdout io.Writer) *command {
	var endpoint endpointFlags
	return &command{
		Name:    "call",
		Summary: "Ask the server to add two integers",
		Usage:   "resonance call [flags] <a> <b>",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("call")
			endpoint.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return process.Usagef("call needs two integers, got %d arguments", len(args))
			}
			a, err := strconv.Atoi(args[0])
			if err != nil {
				return process.Usagef("invalid operand %q", args[0])
			}
			b, err := strconv.Atoi(args[1])
			if err != nil {
				return process.Usagef("invalid operand %q", args[1])
			}
			return endpoint.withClient(func(ctx context.Context, t *transporter.Transporter) error {
				response, err := transporter.SendRequest[CalculateResponse](ctx, t, CalculateRequest{A: a, B: b})
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, response.Sum)
				return nil
			})
		},
	}
}

func progressCommand(stdout io.Writer) *command {
	var (
		endpoint endpointFlags
		steps    int
		interval time.Duration
	)
	return &command{
		Name:    "progress",
		Summary: "Stream progress updates from the server",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("progress")
			endpoint.register(flagSet)
			flagSet.IntVar(&steps, "steps", 5, "number of updates to request")
			flagSet.DurationVar(&interval, "interval", 100*time.Millisecond, "delay between updates")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return process.Usagef("progress takes no arguments, got %q", args)
			}
			if steps <= 0 {
				return process.Usagef("--steps must be positive")
			}
			return endpoint.withClient(func(ctx context.Context, t *transporter.Transporter) error {
				stream, err := transporter.SendContinuousRequest[ProgressUpdate](ctx, t,
					ProgressRequest{Steps: steps, Interval: interval})
				if err != nil {
					return err
				}
				defer stream.Close()
				for {
					update, err := stream.Recv(ctx)
					if errors.Is(err, io.EOF) {
						return nil
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(stdout, "%d/%d %s\n", update.Step, update.Of, update.Message)
				}
			})
		},
	}
}

func notifyCommand() *command {
	var (
		endpoint endpointFlags
		ack      bool
	)
	return &command{
		Name:    "notify",
		Summary: "Send a notice for the server to log",
		Usage:   "resonance notify [flags] <text>",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("notify")
			endpoint.register(flagSet)
			flagSet.BoolVar(&ack, "ack", false, "wait until the server has handled the notice")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return process.Usagef("notify needs exactly one text argument")
			}
			return endpoint.withClient(func(ctx context.Context, t *transporter.Transporter) error {
				return t.SendObject(ctx, Notice{Text: args[0]}, transporter.MessageConfig{RequireACK: ack})
			})
		},
	}
}

func versionCommand(stdout io.Writer) *command {
	var full bool
	return &command{
		Name:    "version",
		Summary: "Print build information",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("version")
			flagSet.BoolVar(&full, "full", false, "include the Go version and platform")
			return flagSet
		},
		Run: func(args []string) error {
			if full {
				fmt.Fprintln(stdout, version.Full())
			} else {
				fmt.Fprintln(stdout, version.Info())
			}
			return nil
		},
	}
}

// setup loads the config and builds the logger it describes.
func (e *endpointFlags) setup() (*config.File, *slog.Logger, error) {
	f, err := e.load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(f)
	if err != nil {
		return nil, nil, err
	}
	return f, logger, nil
}

// withClient connects to the configured endpoint, runs fn and says
// goodbye to the server.
func (e *endpointFlags) withClient(fn func(ctx context.Context, t *transporter.Transporter) error) error {
	f, logger, err := e.setup()
	if err != nil {
		return err
	}
	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	t, err := connect(ctx, f, logger)
	if err != nil {
		return err
	}
	runErr := fn(ctx, t)

	disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	t.Disconnect(disconnectCtx, "client done")
	return runErr
}
