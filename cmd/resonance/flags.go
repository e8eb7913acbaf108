// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/resonance/lib/config"
)

// endpointFlags are the flags shared by every command that opens a
// connection. Flags given on the command line override the config
// file.
type endpointFlags struct {
	configPath string
	network    string
	address    string
	local      string
	name       string
	encrypt    bool
	compress   string
	timeout    time.Duration
	logLevel   string
	keepAlive  bool

	flagSet *pflag.FlagSet
}

func (e *endpointFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&e.configPath, "config", "", "config file (.yaml or .jsonc); defaults to $"+config.EnvVar)
	flagSet.StringVar(&e.network, "network", "", "tcp, unix or udp")
	flagSet.StringVar(&e.address, "address", "", "listen or dial address (socket path for unix)")
	flagSet.StringVar(&e.local, "local", "", "local address a udp client binds")
	flagSet.StringVar(&e.name, "name", "", "endpoint name used in logs")
	flagSet.BoolVar(&e.encrypt, "encrypt", false, "negotiate an encrypted session")
	flagSet.StringVar(&e.compress, "compress", "", "compress frames with lz4, zstd or gzip")
	flagSet.DurationVar(&e.timeout, "timeout", 0, "default request timeout")
	flagSet.StringVar(&e.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVar(&e.keepAlive, "keepalive", false, "probe the peer periodically")
	e.flagSet = flagSet
}

// load reads the config file, if one was named by --config or
// RESONANCE_CONFIG, and applies the flags that were set.
func (e *endpointFlags) load() (*config.File, error) {
	path := e.configPath
	if path == "" {
		path = os.Getenv(config.EnvVar)
	}
	f := config.Default()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		f = loaded
	}

	changed := func(name string) bool { return e.flagSet != nil && e.flagSet.Changed(name) }
	if changed("network") {
		f.Endpoint.Network = e.network
	}
	if changed("address") {
		f.Endpoint.Address = e.address
	}
	if changed("local") {
		f.Endpoint.Local = e.local
	}
	if changed("name") {
		f.Name = e.name
	}
	if changed("encrypt") {
		f.Encryption.Enabled = e.encrypt
	}
	if changed("compress") {
		f.Compression.Enabled = e.compress != "" && e.compress != "none"
		f.Compression.Algorithm = e.compress
	}
	if changed("timeout") {
		f.RequestTimeout = config.Duration(e.timeout)
	}
	if changed("log-level") {
		f.Log.Level = e.logLevel
	}
	if changed("keepalive") {
		f.KeepAlive.Enabled = e.keepAlive
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
