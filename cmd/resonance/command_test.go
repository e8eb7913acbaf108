// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/resonance/lib/config"
	"github.com/bureau-foundation/resonance/lib/process"
	"github.com/bureau-foundation/resonance/lib/version"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &command{
		Name: "resonance",
		Subcommands: []*command{
			{Name: "serve", Run: func(args []string) error { called = "serve"; return nil }},
			{Name: "call", Run: func(args []string) error {
				called = "call"
				receivedArgs = args
				return nil
			}},
		},
	}

	if err := root.Execute([]string{"call", "1", "2"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "call" {
		t.Errorf("dispatched to %q, want %q", called, "call")
	}
	if len(receivedArgs) != 2 || receivedArgs[0] != "1" || receivedArgs[1] != "2" {
		t.Errorf("args = %v, want [1 2]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var steps int
	var rest []string
	cmd := &command{
		Name: "progress",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("progress")
			flagSet.IntVar(&steps, "steps", 1, "")
			return flagSet
		},
		Run: func(args []string) error {
			rest = args
			return nil
		},
	}
	if err := cmd.Execute([]string{"--steps", "7", "tail"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if steps != 7 {
		t.Errorf("steps = %d, want 7", steps)
	}
	if len(rest) != 1 || rest[0] != "tail" {
		t.Errorf("args = %v, want [tail]", rest)
	}
}

func TestRootHelp(t *testing.T) {
	var out bytes.Buffer
	if err := newRoot(&out).Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute(--help) error: %v", err)
	}
	for _, name := range []string{"serve", "call", "progress", "notify", "version"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("help output missing %q:\n%s", name, out.String())
		}
	}
}

func TestSubcommandHelpListsFlags(t *testing.T) {
	var out bytes.Buffer
	if err := newRoot(&out).Execute([]string{"progress", "--help"}); err != nil {
		t.Fatalf("Execute(progress --help) error: %v", err)
	}
	for _, flag := range []string{"--steps", "--interval", "--address", "--encrypt"} {
		if !strings.Contains(out.String(), flag) {
			t.Errorf("progress help missing %s:\n%s", flag, out.String())
		}
	}
}

func TestUsageErrors(t *testing.T) {
	t.Setenv(config.EnvVar, "")

	tests := []struct {
		name string
		args []string
	}{
		{"no subcommand", nil},
		{"unknown command", []string{"frobnicate"}},
		{"unknown flag", []string{"call", "--bogus", "1", "2"}},
		{"call arity", []string{"call", "1"}},
		{"call operand", []string{"call", "one", "2"}},
		{"serve arguments", []string{"serve", "extra"}},
		{"progress steps", []string{"progress", "--steps", "0"}},
		{"notify arity", []string{"notify"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			err := newRoot(&out).Execute(test.args)
			if !errors.Is(err, process.ErrUsage) {
				t.Fatalf("Execute(%q) = %v, want a usage error", test.args, err)
			}
		})
	}
}

func TestInvalidFlagValueRejectedByConfig(t *testing.T) {
	t.Setenv(config.EnvVar, "")

	var out bytes.Buffer
	err := newRoot(&out).Execute([]string{"call", "--network", "sctp", "1", "2"})
	if err == nil || !strings.Contains(err.Error(), "endpoint.network") {
		t.Fatalf("Execute() = %v, want an endpoint.network error", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	if err := newRoot(&out).Execute([]string{"version"}); err != nil {
		t.Fatalf("Execute(version) error: %v", err)
	}
	if !strings.HasPrefix(out.String(), version.Short()) {
		t.Errorf("version output %q does not start with %q", out.String(), version.Short())
	}

	out.Reset()
	if err := newRoot(&out).Execute([]string{"version", "--full"}); err != nil {
		t.Fatalf("Execute(version --full) error: %v", err)
	}
	if !strings.Contains(out.String(), "Platform:") {
		t.Errorf("full version output missing platform:\n%s", out.String())
	}
}
