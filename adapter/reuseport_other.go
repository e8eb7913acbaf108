// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package adapter

import (
	"errors"
	"syscall"
)

const reusePortSupported = false

func setReusePort(network, address string, raw syscall.RawConn) error {
	return errors.New("SO_REUSEPORT is not supported on this platform")
}
