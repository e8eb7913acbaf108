// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/resonance/lib/config"
)

// newLogger builds the process logger from the log section of f. The
// "auto" format writes text when stderr is a terminal and JSON when it
// is piped or redirected.
func newLogger(f *config.File) (*slog.Logger, error) {
	level, err := f.LogLevel()
	if err != nil {
		return nil, err
	}
	textOutput := f.Log.Format == "text"
	if f.Log.Format == "" || f.Log.Format == "auto" {
		textOutput = term.IsTerminal(int(os.Stderr.Fd()))
	}
	return slog.New(newHandler(os.Stderr, textOutput, level)), nil
}

func newHandler(w io.Writer, text bool, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if text {
		return slog.NewTextHandler(w, options)
	}
	return slog.NewJSONHandler(w, options)
}
