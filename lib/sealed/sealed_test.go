// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"strings"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("public key %q lacks the age1 prefix", keypair.PublicKey)
	}
	if !strings.HasPrefix(keypair.PrivateKey, "AGE-SECRET-KEY-1") {
		t.Error("private key lacks the AGE-SECRET-KEY-1 prefix")
	}

	ciphertext, err := Encrypt([]byte("session password"), keypair.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	plaintext, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "session password" {
		t.Errorf("decrypted %q", plaintext)
	}
}

func TestMultipleRecipients(t *testing.T) {
	first, _ := GenerateKeypair()
	second, _ := GenerateKeypair()
	ciphertext, err := Encrypt([]byte("shared"), first.PublicKey, second.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	for _, keypair := range []Keypair{first, second} {
		plaintext, err := Decrypt(ciphertext, keypair.PrivateKey)
		if err != nil || string(plaintext) != "shared" {
			t.Errorf("Decrypt = %q, %v", plaintext, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	owner, _ := GenerateKeypair()
	stranger, _ := GenerateKeypair()
	ciphertext, err := Encrypt([]byte("secret"), owner.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(ciphertext, stranger.PrivateKey); err == nil {
		t.Error("Decrypt with a stranger's key succeeded")
	}
}

func TestInvalidInputs(t *testing.T) {
	if _, err := Encrypt([]byte("x")); err == nil {
		t.Error("Encrypt with no recipients succeeded")
	}
	if _, err := Encrypt([]byte("x"), "not-a-key"); err == nil {
		t.Error("Encrypt to a malformed key succeeded")
	}
	keypair, _ := GenerateKeypair()
	if _, err := Decrypt("!!!", keypair.PrivateKey); err == nil {
		t.Error("Decrypt of non-base64 succeeded")
	}
	if _, err := Decrypt("", "garbage"); err == nil {
		t.Error("Decrypt with a malformed private key succeeded")
	}
	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey: %v", err)
	}
	if err := ParsePublicKey("age1nope"); err == nil {
		t.Error("ParsePublicKey accepted garbage")
	}
}
