// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keepalive detects a dead peer by probing it periodically.
//
// A [Monitor] sends a probe through a [Prober] every Interval and counts
// consecutive probes that timed out. A timeout is forgiven when any
// inbound traffic arrived after the probe was sent, since a busy link
// can delay the reply without the peer being gone. Once Retries
// consecutive misses accumulate the monitor reports expiry through
// Options.OnExpired and either stops (FailTransporterOnTimeout) or
// starts counting again.
package keepalive
