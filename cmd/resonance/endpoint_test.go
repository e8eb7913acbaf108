// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/resonance/lib/config"
	"github.com/bureau-foundation/resonance/lib/testutil"
	"github.com/bureau-foundation/resonance/transporter"
)

const testTimeout = 10 * time.Second

// startServer runs serve for f until the test ends and returns the
// bound address.
func startServer(t *testing.T, f *config.File) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, f, slog.New(slog.DiscardHandler), func(address string) { ready <- address })
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, testTimeout, "serve did not stop"); err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	select {
	case address := <-ready:
		return address
	case err := <-done:
		t.Fatalf("serve: %v", err)
		return ""
	case <-time.After(testTimeout):
		t.Fatal("server did not become ready")
		return ""
	}
}

func unixServer(t *testing.T) string {
	t.Helper()
	f := config.Default()
	f.Endpoint.Network = "unix"
	f.Endpoint.Address = filepath.Join(testutil.SocketDir(t), "resonance.sock")
	return startServer(t, f)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvVar, "")
	var out bytes.Buffer
	err := newRoot(&out).Execute(append(args, "--log-level", "error"))
	return out.String(), err
}

func TestCallOverUnixSocket(t *testing.T) {
	path := unixServer(t)

	out, err := execute(t, "call", "--network", "unix", "--address", path, "10", "5")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if strings.TrimSpace(out) != "15" {
		t.Errorf("call printed %q, want 15", out)
	}
}

func TestCallOverflowReturnsCode(t *testing.T) {
	path := unixServer(t)

	_, err := execute(t, "call", "--network", "unix", "--address", path,
		strconv.Itoa(math.MaxInt), "1")
	var remote *transporter.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("call error = %v, want *transporter.RemoteError", err)
	}
	if remote.Code != "overflow" {
		t.Errorf("error code = %q, want overflow", remote.Code)
	}
}

func TestProgressStreamsEveryStep(t *testing.T) {
	path := unixServer(t)

	out, err := execute(t, "progress", "--network", "unix", "--address", path,
		"--steps", "3", "--interval", "0s")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	want := "1/3 step 1 of 3\n2/3 step 2 of 3\n3/3 step 3 of 3\n"
	if out != want {
		t.Errorf("progress printed %q, want %q", out, want)
	}
}

func TestNotifyWithAck(t *testing.T) {
	path := unixServer(t)

	if _, err := execute(t, "notify", "--network", "unix", "--address", path, "--ack", "hello"); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

func TestEncryptedCompressedTCP(t *testing.T) {
	f := config.Default()
	f.Endpoint.Address = "127.0.0.1:0"
	f.Encryption.Enabled = true
	f.Compression.Enabled = true
	f.Compression.Algorithm = "zstd"
	address := startServer(t, f)

	out, err := execute(t, "call", "--address", address, "--encrypt", "--compress", "zstd", "40", "2")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if strings.TrimSpace(out) != "42" {
		t.Errorf("call printed %q, want 42", out)
	}
}

func TestEncryptionMismatchFailsCall(t *testing.T) {
	f := config.Default()
	f.Endpoint.Address = "127.0.0.1:0"
	address := startServer(t, f)

	_, err := execute(t, "call", "--address", address, "--encrypt", "1", "2")
	if err == nil {
		t.Fatal("call with encryption against a plaintext server succeeded")
	}
}

func TestConcurrentClientsShareServer(t *testing.T) {
	f := config.Default()
	f.Endpoint.Address = "127.0.0.1:0"
	address := startServer(t, f)

	client := config.Default()
	client.Endpoint.Address = address
	logger := slog.New(slog.DiscardHandler)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	const clients = 4
	errs := make(chan error, clients)
	for i := range clients {
		go func() {
			conn, err := connect(ctx, client, logger)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Disconnect(ctx, "test done")
			response, err := transporter.SendRequest[CalculateResponse](ctx, conn, CalculateRequest{A: i, B: 100})
			if err == nil && response.Sum != i+100 {
				err = errors.New("wrong sum " + strconv.Itoa(response.Sum))
			}
			errs <- err
		}()
	}
	for range clients {
		if err := testutil.RequireReceive(t, errs, testTimeout, "client did not finish"); err != nil {
			t.Error(err)
		}
	}
}

func TestConnectWithoutServer(t *testing.T) {
	f := config.Default()
	f.Endpoint.Network = "unix"
	f.Endpoint.Address = filepath.Join(testutil.SocketDir(t), "absent.sock")

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err := connect(ctx, f, slog.New(slog.DiscardHandler))
	var connectionErr *transporter.ConnectionError
	if !errors.As(err, &connectionErr) {
		t.Fatalf("connect error = %v, want *transporter.ConnectionError", err)
	}
}
