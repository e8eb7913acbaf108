// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// MaxDatagramSize is the largest frame a UDPAdapter carries.
const MaxDatagramSize = 65507

// UDPAdapter sends one frame per datagram. UDP does not guarantee
// delivery or order; the transporter's timeouts and keep-alive cover
// loss.
type UDPAdapter struct {
	*link
	local  string
	remote string
	listen ListenOptions

	// peerKnown is closed once peer is set.
	peerKnown chan struct{}

	mu   sync.Mutex
	conn *net.UDPConn
	peer *net.UDPAddr
}

var _ Adapter = (*UDPAdapter)(nil)

// NewUDPAdapter binds local ("host:port", ":0" for any) and sends to
// remote. An empty remote makes the adapter answer whoever sends the
// first datagram, which is how a listening side is built; its Connect
// returns once that datagram has arrived.
func NewUDPAdapter(local, remote string, options ListenOptions) *UDPAdapter {
	name := "udp " + local
	if remote != "" {
		name += "->" + remote
	}
	return &UDPAdapter{
		link:      newLink(name, options.Logger),
		local:     local,
		remote:    remote,
		listen:    options,
		peerKnown: make(chan struct{}),
	}
}

func (a *UDPAdapter) Connect(ctx context.Context) error {
	if err := a.begin(); err != nil {
		return err
	}
	fail := func(err error) error {
		err = fmt.Errorf("connecting %s: %w", a.name, err)
		a.connectFailed(err)
		return err
	}

	var peer *net.UDPAddr
	if a.remote != "" {
		resolved, err := net.ResolveUDPAddr("udp", a.remote)
		if err != nil {
			return fail(err)
		}
		peer = resolved
	}
	config := a.listen.listenConfig()
	packetConn, err := config.ListenPacket(ctx, "udp", a.local)
	if err != nil {
		return fail(err)
	}
	conn := packetConn.(*net.UDPConn)

	a.mu.Lock()
	a.conn = conn
	a.peer = peer
	a.mu.Unlock()
	if peer != nil {
		close(a.peerKnown)
	}
	if a.isClosing() {
		conn.Close()
	}
	a.logger.Debug("udp adapter bound", "local", conn.LocalAddr().String())
	go a.read(conn)

	select {
	case <-a.peerKnown:
	case <-a.readerEnd:
		return fmt.Errorf("connecting %s: %w", a.name, ErrNotConnected)
	case <-ctx.Done():
		conn.Close()
		<-a.readerEnd
		return fmt.Errorf("connecting %s: waiting for a peer: %w", a.name, ctx.Err())
	}
	a.connected()
	return nil
}

// LocalAddress returns the bound address, useful after binding ":0".
// It is empty before Connect.
func (a *UDPAdapter) LocalAddress() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return ""
	}
	return a.conn.LocalAddr().String()
}

func (a *UDPAdapter) read(conn *net.UDPConn) {
	buffer := make([]byte, MaxDatagramSize+1)
	for {
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			a.finish(err)
			return
		}
		if n > MaxDatagramSize || n == 0 {
			continue
		}
		if !a.acceptFrom(from) {
			a.logger.Debug("dropping datagram from unknown sender", "from", from.String())
			continue
		}
		if !a.deliver(append([]byte(nil), buffer[:n]...)) {
			a.finish(nil)
			return
		}
	}
}

// acceptFrom learns the peer from the first datagram when none was
// configured and rejects datagrams from anyone else.
func (a *UDPAdapter) acceptFrom(from *net.UDPAddr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peer == nil {
		a.peer = from
		close(a.peerKnown)
		a.logger.Debug("learned udp peer", "peer", from.String())
		return true
	}
	return a.peer.IP.Equal(from.IP) && a.peer.Port == from.Port
}

func (a *UDPAdapter) Write(ctx context.Context, frame []byte) error {
	if len(frame) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d-byte datagram limit", ErrFrameTooLarge, len(frame), MaxDatagramSize)
	}
	if !a.isConnected() {
		return ErrNotConnected
	}
	a.mu.Lock()
	conn, peer := a.conn, a.peer
	a.mu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := conn.WriteToUDP(frame, peer); err != nil {
		return fmt.Errorf("writing to %s: %w", peer, err)
	}
	return nil
}

func (a *UDPAdapter) Disconnect(ctx context.Context) error {
	if !a.markClosing() {
		return nil
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	conn.Close()
	select {
	case <-a.readerEnd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
