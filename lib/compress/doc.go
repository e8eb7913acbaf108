// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress implements the frame compression algorithms. The
// algorithm tag travels in the frame header next to the uncompressed
// length, so decompression never guesses sizes.
//
// Compression that does not shrink the input fails with
// [ErrIncompressible]; callers send such frames uncompressed.
package compress
