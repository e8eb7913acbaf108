// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Resonance endpoint configuration from a file.
//
// Configuration is loaded from a single file specified by either the
// RESONANCE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no search path and no merging of several
// files. Environment variables do not override values in the file.
//
// Two formats are accepted, chosen by file extension: YAML (.yaml,
// .yml) and JSONC (.json, .jsonc), which is JSON extended with
// comments and trailing commas. Unknown keys are errors in both, so a
// misspelled option fails loudly instead of silently keeping its
// default. Durations are written as Go duration strings ("1500ms",
// "2s").
//
// After loading, ${VAR} and ${VAR:-default} patterns in the endpoint
// address are expanded, so a Unix socket can live under
// ${XDG_RUNTIME_DIR}.
//
// Key exports:
//
//   - [File] -- the file schema: endpoint, codec, timeouts, keep-alive,
//     encryption, compression, handshake and logging
//   - [Default] -- a File with every default filled in
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [File.TransporterConfig] -- the validated transporter.Config
package config
