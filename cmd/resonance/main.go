// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Resonance serves and calls the calculator and progress demo
// endpoints over TCP, Unix sockets or UDP.
//
// Usage:
//
//	resonance serve --network tcp --address 127.0.0.1:7400
//	resonance call --address 127.0.0.1:7400 10 5
//	resonance progress --address 127.0.0.1:7400 --steps 5
package main

import (
	"os"

	"github.com/bureau-foundation/resonance/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}
