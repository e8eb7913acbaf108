// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/resonance/adapter"
	"github.com/bureau-foundation/resonance/lib/config"
	"github.com/bureau-foundation/resonance/transporter"
)

// shutdownTimeout bounds the farewell sent to each peer when the
// server stops.
const shutdownTimeout = 5 * time.Second

// rebindDelay spaces UDP rebinds after a failed session.
const rebindDelay = time.Second

// dialAdapter builds the client side of the endpoint in f.
func dialAdapter(f *config.File, logger *slog.Logger) adapter.Adapter {
	options := adapter.Options{Logger: logger, DialTimeout: f.Endpoint.DialTimeout.Std()}
	switch f.Endpoint.Network {
	case "unix":
		return adapter.NewUnixAdapter(f.Endpoint.Address, options)
	case "udp":
		local := f.Endpoint.Local
		if local == "" {
			local = ":0"
		}
		return adapter.NewUDPAdapter(local, f.Endpoint.Address, adapter.ListenOptions{Logger: logger})
	default:
		return adapter.NewTCPAdapter(f.Endpoint.Address, options)
	}
}

// connect dials the endpoint in f and returns a connected transporter.
func connect(ctx context.Context, f *config.File, logger *slog.Logger) (*transporter.Transporter, error) {
	transporterConfig, err := f.TransporterConfig(logger)
	if err != nil {
		return nil, err
	}
	t, err := transporter.New(dialAdapter(f, logger), transporterConfig)
	if err != nil {
		return nil, err
	}
	if err := t.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s %s: %w", f.Endpoint.Network, f.Endpoint.Address, err)
	}
	return t, nil
}

// serve answers demo requests on the endpoint in f until ctx is
// cancelled. ready, when not nil, receives the bound address once the
// server accepts connections.
func serve(ctx context.Context, f *config.File, logger *slog.Logger, ready func(address string)) error {
	if f.Endpoint.Network == "udp" {
		return serveDatagrams(ctx, f, logger, ready)
	}

	server, err := adapter.Listen(ctx, f.Endpoint.Network, f.Endpoint.Address,
		adapter.ListenOptions{Logger: logger, ReusePort: f.Endpoint.ReusePort})
	if err != nil {
		return err
	}
	logger.Info("listening", "network", f.Endpoint.Network, "address", server.Address())
	if ready != nil {
		ready(server.Address())
	}
	stop := context.AfterFunc(ctx, func() { server.Close() })
	defer stop()

	var sessions sync.WaitGroup
	defer sessions.Wait()
	for {
		accepted, err := server.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting on %s: %w", server.Address(), err)
		}
		sessions.Go(func() {
			if err := session(ctx, accepted, f, logger); err != nil {
				logger.Warn("session ended with an error", "adapter", accepted.Name(), "error", err)
			}
		})
	}
}

// serveDatagrams serves one UDP peer at a time, rebinding after each
// session.
func serveDatagrams(ctx context.Context, f *config.File, logger *slog.Logger, ready func(address string)) error {
	logger.Info("listening", "network", "udp", "address", f.Endpoint.Address)
	if ready != nil {
		ready(f.Endpoint.Address)
	}
	for ctx.Err() == nil {
		listening := adapter.NewUDPAdapter(f.Endpoint.Address, "",
			adapter.ListenOptions{Logger: logger, ReusePort: f.Endpoint.ReusePort})
		err := session(ctx, listening, f, logger)
		if err == nil || ctx.Err() != nil {
			continue
		}
		logger.Warn("udp session ended with an error", "error", err)
		select {
		case <-time.After(rebindDelay):
		case <-ctx.Done():
		}
	}
	return nil
}

// session runs one server-side transporter over a until the peer goes
// away or ctx is cancelled. It returns the failure, if any.
func session(ctx context.Context, a adapter.Adapter, f *config.File, logger *slog.Logger) error {
	transporterConfig, err := f.TransporterConfig(logger)
	if err != nil {
		return err
	}
	t, err := transporter.New(a, transporterConfig)
	if err != nil {
		return err
	}
	if err := registerDemoHandlers(t, logger.With("session", a.Name())); err != nil {
		return err
	}

	ended := make(chan struct{})
	var once sync.Once
	t.Subscribe(func(e transporter.Event) {
		changed, ok := e.(transporter.StateChanged)
		if ok && (changed.Current == transporter.StateDisconnected || changed.Current == transporter.StateFailed) {
			once.Do(func() { close(ended) })
		}
	})

	if err := t.Connect(ctx); err != nil {
		return err
	}
	select {
	case <-ended:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		t.Disconnect(shutdownCtx, "server shutting down")
	}
	return t.FailedStateError()
}
