// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
)

// MaxDataChannelMessage is the largest frame a DataChannelAdapter
// sends. It is the SCTP message size every WebRTC stack accepts.
const MaxDataChannelMessage = 65535

// readBufferSize leaves room for peers that negotiated a larger message
// size than we send.
const readBufferSize = 256 << 10

// NewWebRTCAPI returns a pion API whose data channels can be used with
// DataChannelAdapter. Detached data channels are required; loopback
// candidates are included so two peers on one host can connect.
func NewWebRTCAPI() *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)
	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}

// DataChannelAdapter sends one frame per message over a WebRTC data
// channel. Signaling and ICE are the caller's business: the channel
// must belong to a PeerConnection created from an API with detached
// data channels (see NewWebRTCAPI). Create the channel ordered and
// reliable; the transporter assumes in-order delivery.
type DataChannelAdapter struct {
	*link
	channel *webrtc.DataChannel

	opened   chan struct{}
	openOnce sync.Once

	mu     sync.Mutex
	stream io.ReadWriteCloser

	writeMu sync.Mutex
}

var _ Adapter = (*DataChannelAdapter)(nil)

// NewDataChannelAdapter wraps channel. It may be called before the
// channel opens; Connect waits for it.
func NewDataChannelAdapter(channel *webrtc.DataChannel, options Options) *DataChannelAdapter {
	a := &DataChannelAdapter{
		link:    newLink("webrtc "+channel.Label(), options.Logger),
		channel: channel,
		opened:  make(chan struct{}),
	}
	channel.OnOpen(func() {
		a.openOnce.Do(func() { close(a.opened) })
	})
	return a
}

func (a *DataChannelAdapter) Connect(ctx context.Context) error {
	if err := a.begin(); err != nil {
		return err
	}
	fail := func(err error) error {
		err = fmt.Errorf("connecting %s: %w", a.name, err)
		a.connectFailed(err)
		return err
	}
	select {
	case <-a.opened:
	case <-a.stopping:
		return fail(ErrNotConnected)
	case <-ctx.Done():
		return fail(fmt.Errorf("waiting for data channel to open: %w", ctx.Err()))
	}

	stream, err := a.channel.Detach()
	if err != nil {
		return fail(fmt.Errorf("detaching data channel: %w", err))
	}
	a.mu.Lock()
	a.stream = stream
	a.mu.Unlock()
	if a.isClosing() {
		stream.Close()
	}
	a.connected()
	a.logger.Debug("data channel connected")
	go a.read(stream)
	return nil
}

func (a *DataChannelAdapter) read(stream io.Reader) {
	buffer := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buffer)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			a.finish(err)
			return
		}
		if n == 0 {
			continue
		}
		if !a.deliver(append([]byte(nil), buffer[:n]...)) {
			a.finish(nil)
			return
		}
	}
}

func (a *DataChannelAdapter) Write(ctx context.Context, frame []byte) error {
	if len(frame) > MaxDataChannelMessage {
		return fmt.Errorf("%w: %d bytes exceeds the %d-byte message limit", ErrFrameTooLarge, len(frame), MaxDataChannelMessage)
	}
	if !a.isConnected() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := stream.Write(frame); err != nil {
		return fmt.Errorf("writing to %s: %w", a.name, err)
	}
	return nil
}

func (a *DataChannelAdapter) Disconnect(ctx context.Context) error {
	if !a.markClosing() {
		return nil
	}
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return nil
	}
	closeErr := stream.Close()
	select {
	case <-a.readerEnd:
	case <-ctx.Done():
		return ctx.Err()
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", a.name, closeErr)
	}
	return nil
}
