// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
)

// ListenOptions configures a Server.
type ListenOptions struct {
	Logger *slog.Logger

	// ReusePort sets SO_REUSEPORT so several processes can accept on
	// the same TCP or UDP port.
	ReusePort bool
}

// listenConfig returns the net.ListenConfig for options.
func (o ListenOptions) listenConfig() net.ListenConfig {
	if !o.ReusePort {
		return net.ListenConfig{}
	}
	return net.ListenConfig{
		Control: func(network, address string, raw syscall.RawConn) error {
			return setReusePort(network, address, raw)
		},
	}
}

// Server accepts stream connections and hands each one out as a
// StreamAdapter. It serves "tcp" and "unix" networks.
type Server struct {
	listener net.Listener
	logger   *slog.Logger
}

// Listen opens a Server on network ("tcp" or "unix") and address. Use
// "127.0.0.1:0" for a random TCP port.
func Listen(ctx context.Context, network, address string, options ListenOptions) (*Server, error) {
	if network != "tcp" && network != "unix" {
		return nil, fmt.Errorf("unsupported stream network %q", network)
	}
	if options.ReusePort && network == "unix" {
		return nil, errors.New("SO_REUSEPORT applies to tcp only")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	config := options.listenConfig()
	listener, err := config.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s %s: %w", network, address, err)
	}
	return &Server{listener: listener, logger: options.Logger}, nil
}

// Address returns the listening address, "host:port" for TCP or the
// socket path for Unix.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// Accept waits for the next connection. The returned adapter has not
// been connected yet; Connect starts reading.
func (s *Server) Accept() (*StreamAdapter, error) {
	conn, err := s.listener.Accept()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("accepted connection", "remote", conn.RemoteAddr().String())
	return FromConn(conn, Options{Logger: s.logger}), nil
}

// Serve accepts connections and passes each to handle on its own
// goroutine. It blocks until ctx is cancelled or Close is called, and
// returns nil on either.
func (s *Server) Serve(ctx context.Context, handle func(*StreamAdapter)) error {
	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	for {
		accepted, err := s.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting on %s: %w", s.Address(), err)
		}
		go handle(accepted)
	}
}

// Close stops accepting. Adapters already handed out are unaffected.
func (s *Server) Close() error {
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
