// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package symmetric is the session cipher used once a handshake has
// delivered a shared password. The password is stretched with
// HKDF-SHA256 into an XChaCha20-Poly1305 key; every sealed frame body
// has the layout
//
//	[Nonce: 24 bytes (random)] [Ciphertext+Tag: N+16 bytes]
//
// and authenticates caller-supplied additional data (the plaintext
// frame header), so a header cannot be edited without the body failing
// to open.
package symmetric

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the derived key length in bytes.
const KeySize = chacha20poly1305.KeySize

// Overhead is the bytes a sealed body adds to its plaintext.
const Overhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfo separates session keys from any other use of the password.
// Changing it breaks interoperability with existing peers.
var hkdfInfo = []byte("resonance.session.v1")

// ErrOpen is returned when a body fails authentication.
var ErrOpen = errors.New("symmetric: message authentication failed")

// Cipher seals and opens frame bodies under one session key. Safe for
// concurrent use; the key never changes after construction.
type Cipher struct {
	aead        cipher.AEAD
	fingerprint string
}

// New derives a session key from password.
func New(password []byte) (*Cipher, error) {
	if len(password) == 0 {
		return nil, errors.New("symmetric: empty password")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, password, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	digest := blake3.Sum256(key)
	return &Cipher{aead: aead, fingerprint: hex.EncodeToString(digest[:6])}, nil
}

// Fingerprint is a short BLAKE3 digest of the key. Both ends of a
// session log the same value, which is how a mismatched key shows up
// in logs without the key itself appearing there.
func (c *Cipher) Fingerprint() string { return c.fingerprint }

// Seal encrypts plaintext, binding additionalData.
func (c *Cipher) Seal(plaintext, additionalData []byte) ([]byte, error) {
	output := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, output); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return c.aead.Seal(output, output[:chacha20poly1305.NonceSizeX], plaintext, additionalData), nil
}

// Open decrypts a body produced by Seal with the same additionalData.
func (c *Cipher) Open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("symmetric: sealed body is %d bytes, minimum is %d", len(sealed), Overhead)
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	plaintext, err := c.aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSizeX:], additionalData)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
