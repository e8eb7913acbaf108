// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package the runtime schedules with.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// inside Advance (fake) once d has elapsed. The returned Timer
	// can cancel or re-arm the call.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep blocks the calling goroutine for d.
	Sleep(d time.Duration)
}

// Timer is a handle on a pending AfterFunc call.
type Timer struct {
	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the pending call. It reports whether the call was
// still pending; false means it already ran or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Reset re-arms the timer to fire d from now and reports whether it
// was pending before the call.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }

// Real returns the wall clock.
func Real() Clock { return wallClock{} }

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (wallClock) Sleep(d time.Duration)                  { time.Sleep(d) }

func (wallClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop, reset: timer.Reset}
}

// OrReal returns c, or the wall clock when c is nil. Options structs
// use it to make a zero Clock field mean production time.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
