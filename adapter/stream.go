// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// DialFunc opens the connection a StreamAdapter runs over.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Options configures an adapter.
type Options struct {
	Logger *slog.Logger

	// DialTimeout bounds Connect in addition to the context deadline.
	// Zero means only the context applies.
	DialTimeout time.Duration
}

// StreamAdapter carries length-prefixed frames over a net.Conn.
type StreamAdapter struct {
	*link
	dial    DialFunc
	timeout time.Duration

	connMu sync.Mutex
	conn   net.Conn

	writeMu sync.Mutex
	buffer  []byte
}

var _ Adapter = (*StreamAdapter)(nil)

// NewStreamAdapter returns an adapter that obtains its connection from
// dial on Connect.
func NewStreamAdapter(name string, dial DialFunc, options Options) *StreamAdapter {
	return &StreamAdapter{
		link:    newLink(name, options.Logger),
		dial:    dial,
		timeout: options.DialTimeout,
	}
}

// NewTCPAdapter dials address ("host:port") over TCP.
func NewTCPAdapter(address string, options Options) *StreamAdapter {
	return NewStreamAdapter("tcp "+address, dialer("tcp", address), options)
}

// NewUnixAdapter dials the Unix stream socket at path.
func NewUnixAdapter(path string, options Options) *StreamAdapter {
	return NewStreamAdapter("unix "+path, dialer("unix", path), options)
}

// FromConn wraps an established connection, typically one accepted by
// a Server. Connect starts reading from it.
func FromConn(conn net.Conn, options Options) *StreamAdapter {
	name := conn.LocalAddr().Network() + " peer"
	if remote := conn.RemoteAddr(); remote != nil && remote.String() != "" {
		name = remote.Network() + " " + remote.String()
	}
	return NewStreamAdapter(name, func(context.Context) (net.Conn, error) { return conn, nil }, options)
}

func dialer(network, address string) DialFunc {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}
}

func (a *StreamAdapter) Connect(ctx context.Context) error {
	if err := a.begin(); err != nil {
		return err
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	conn, err := a.dial(ctx)
	if err != nil {
		err = fmt.Errorf("connecting %s: %w", a.name, err)
		a.connectFailed(err)
		return err
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()
	if a.isClosing() {
		// Disconnect ran while dialing; the reader sees the close and
		// finishes as a clean disconnect.
		conn.Close()
	}
	a.connected()
	a.logger.Debug("adapter connected", "local", conn.LocalAddr().String())
	go a.read(conn)
	return nil
}

func (a *StreamAdapter) read(conn net.Conn) {
	frames := newFrameReader(conn, a.logger)
	for {
		frame, err := frames.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			a.finish(err)
			return
		}
		if !a.deliver(frame) {
			a.finish(nil)
			return
		}
	}
}

func (a *StreamAdapter) Write(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(frame), MaxFrameSize)
	}
	if !a.isConnected() {
		return ErrNotConnected
	}
	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	a.buffer = appendFrame(a.buffer[:0], frame)
	if _, err := conn.Write(a.buffer); err != nil {
		return fmt.Errorf("writing to %s: %w", a.name, err)
	}
	return nil
}

func (a *StreamAdapter) Disconnect(ctx context.Context) error {
	if !a.markClosing() {
		return nil
	}
	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn == nil {
		return nil
	}
	closeErr := conn.Close()
	select {
	case <-a.readerEnd:
	case <-ctx.Done():
		return ctx.Err()
	}
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("closing %s: %w", a.name, closeErr)
	}
	return nil
}
