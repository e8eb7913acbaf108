// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import "fmt"

// Codec serializes values. Implementations are safe for concurrent use.
type Codec interface {
	// ID is the wire identifier stored in frame headers. IDs are
	// protocol constants.
	ID() byte

	// Name is the identifier used in configuration and logs.
	Name() string

	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var builtin = []Codec{CBOR, JSON}

// ByID returns the codec registered under a wire ID.
func ByID(id byte) (Codec, error) {
	for _, c := range builtin {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("codec: unknown codec id %d", id)
}

// ByName returns the codec with the given configuration name. The
// empty name selects CBOR.
func ByName(name string) (Codec, error) {
	if name == "" {
		return CBOR, nil
	}
	for _, c := range builtin {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("codec: unknown codec %q (want \"cbor\" or \"json\")", name)
}
