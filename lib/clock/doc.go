// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every deadline in the runtime:
// request timeouts in the correlation registry, the handshake bound,
// keep-alive probe intervals, and the stream adapters' filler backoff.
//
// Components take a [Clock] in their options and default to [Real].
// Tests pass a [FakeClock] and drive it explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	monitor := keepalive.New(config, prober, keepalive.Options{Clock: c})
//	monitor.Start(ctx)
//	c.WaitForTimers(1)         // the first probe registered its timeout
//	c.Advance(2 * time.Second) // and now it expires
//
// WaitForTimers closes the gap between a goroutine arming a timer and
// the test moving time past it.
package clock
