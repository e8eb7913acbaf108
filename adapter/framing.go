// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
)

// MaxFrameSize bounds one length-prefixed frame.
const MaxFrameSize = 16 << 20

// prefixSize is the length of the little-endian frame length prefix.
const prefixSize = 4

// appendFrame appends the length prefix and frame to buffer.
func appendFrame(buffer, frame []byte) []byte {
	buffer = binary.LittleEndian.AppendUint32(buffer, uint32(len(frame)))
	return append(buffer, frame...)
}

// frameReader splits a byte stream into length-prefixed frames.
//
// A prefix that is zero or negative as a signed 32-bit value is filler
// and skipped. A prefix above MaxFrameSize means the stream is out of
// step; the buffered bytes are discarded so the reader can resync on a
// later write boundary.
type frameReader struct {
	reader *bufio.Reader
	logger *slog.Logger
}

func newFrameReader(r io.Reader, logger *slog.Logger) *frameReader {
	return &frameReader{reader: bufio.NewReaderSize(r, 64<<10), logger: logger}
}

func (f *frameReader) next() ([]byte, error) {
	var prefix [prefixSize]byte
	for {
		if _, err := io.ReadFull(f.reader, prefix[:]); err != nil {
			return nil, err
		}
		length := int32(binary.LittleEndian.Uint32(prefix[:]))
		if length <= 0 {
			continue
		}
		if length > MaxFrameSize {
			discarded, _ := f.reader.Discard(f.reader.Buffered())
			f.logger.Warn("corrupt frame length, discarding buffered bytes",
				"length", length, "discarded", discarded)
			continue
		}
		frame := make([]byte, length)
		if _, err := io.ReadFull(f.reader, frame); err != nil {
			return nil, fmt.Errorf("reading %d-byte frame: %w", length, err)
		}
		return frame, nil
	}
}
