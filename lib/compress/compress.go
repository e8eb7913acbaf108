// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a compression algorithm on the wire. The values
// are protocol constants.
type Algorithm uint8

const (
	// None marks an uncompressed body.
	None Algorithm = 0

	// LZ4 is block-mode LZ4. Cheap enough to leave on for every frame.
	LZ4 Algorithm = 1

	// Zstd is zstd at the default level. Better ratios on text-heavy
	// payloads such as JSON-encoded envelopes.
	Zstd Algorithm = 2

	// Gzip is DEFLATE in a gzip container, for peers that only
	// speak gzip.
	Gzip Algorithm = 3
)

// ErrIncompressible reports that compressing did not make the data
// smaller.
var ErrIncompressible = errors.New("compress: data is incompressible")

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Parse maps a configuration name to an algorithm. The empty name
// selects LZ4.
func Parse(name string) (Algorithm, error) {
	switch name {
	case "none":
		return None, nil
	case "", "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "gzip":
		return Gzip, nil
	default:
		return None, fmt.Errorf("compress: unknown algorithm %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with the given algorithm. None returns data
// unchanged.
func Compress(data []byte, algorithm Algorithm) ([]byte, error) {
	var compressed []byte
	switch algorithm {
	case None:
		return data, nil
	case LZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock reports 0 for input it could not compress.
		if written == 0 {
			return nil, ErrIncompressible
		}
		compressed = destination[:written]
	case Zstd:
		compressed = zstdEncoder.EncodeAll(data, nil)
	case Gzip:
		var buffer bytes.Buffer
		writer := gzip.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		compressed = buffer.Bytes()
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm %s", algorithm)
	}
	if len(compressed) >= len(data) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

// Decompress reverses Compress. size is the exact uncompressed length
// and a mismatch is an error.
func Decompress(compressed []byte, algorithm Algorithm, size int) ([]byte, error) {
	var result []byte
	switch algorithm {
	case None:
		result = compressed
	case LZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		result = destination[:read]
	case Zstd:
		decoded, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		result = decoded
	case Gzip:
		reader, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		// One byte past size so an oversized stream is detected
		// without reading it all.
		decoded, err := io.ReadAll(io.LimitReader(reader, int64(size)+1))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		result = decoded
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm %s", algorithm)
	}
	if len(result) != size {
		return nil, fmt.Errorf("%s decompress: got %d bytes, expected %d", algorithm, len(result), size)
	}
	return result, nil
}
