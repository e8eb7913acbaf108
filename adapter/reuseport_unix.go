// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd

package adapter

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

const reusePortSupported = true

func setReusePort(network, address string, raw syscall.RawConn) error {
	var sockErr error
	err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	if sockErr != nil {
		return fmt.Errorf("setting SO_REUSEPORT on %s %s: %w", network, address, sockErr)
	}
	return nil
}
