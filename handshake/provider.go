// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import "github.com/bureau-foundation/resonance/lib/sealed"

// CryptoProvider is the asymmetric scheme used to deliver the session
// password.
type CryptoProvider interface {
	CreateKeys() (publicKey, privateKey string, err error)
	Encrypt(plaintext []byte, publicKey string) (string, error)
	Decrypt(ciphertext, privateKey string) ([]byte, error)
}

// AgeProvider seals with age X25519 keys. This is the default.
type AgeProvider struct{}

var _ CryptoProvider = AgeProvider{}

func (AgeProvider) CreateKeys() (string, string, error) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return "", "", err
	}
	return keypair.PublicKey, keypair.PrivateKey, nil
}

func (AgeProvider) Encrypt(plaintext []byte, publicKey string) (string, error) {
	return sealed.Encrypt(plaintext, publicKey)
}

func (AgeProvider) Decrypt(ciphertext, privateKey string) ([]byte, error) {
	return sealed.Decrypt(ciphertext, privateKey)
}
