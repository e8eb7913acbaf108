// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	c := Fake(epoch)
	channel := c.After(3 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-channel:
		if want := epoch.Add(3 * time.Second); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-c.After(d):
		default:
			t.Errorf("After(%v) did not deliver immediately", d)
		}
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", c.PendingCount())
	}
}

func TestFakeAfterFuncOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "second") })
	c.AfterFunc(time.Second, func() { order = append(order, "first") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "third") })

	c.Advance(5 * time.Second)

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("fired %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("fired %v, want %v", order, want)
		}
	}
}

func TestFakeTimerStopAndReset(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	timer := c.AfterFunc(time.Second, func() { fired++ })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	c.Advance(2 * time.Second)
	if fired != 0 {
		t.Fatalf("stopped timer fired %d times", fired)
	}

	if timer.Reset(time.Second) {
		t.Fatal("Reset on a stopped timer reported it pending")
	}
	c.Advance(500 * time.Millisecond)
	if !timer.Reset(time.Second) {
		t.Fatal("Reset on an armed timer reported it idle")
	}
	c.Advance(900 * time.Millisecond)
	if fired != 0 {
		t.Fatal("re-armed timer fired before its new deadline")
	}
	c.Advance(100 * time.Millisecond)
	if fired != 1 {
		t.Fatalf("fired = %d after the new deadline, want 1", fired)
	}
}

func TestFakeCallbackArmsWithinWindow(t *testing.T) {
	c := Fake(epoch)
	var fired []time.Duration
	c.AfterFunc(time.Second, func() {
		fired = append(fired, time.Second)
		c.AfterFunc(time.Second, func() { fired = append(fired, 2*time.Second) })
	})

	c.Advance(3 * time.Second)
	if len(fired) != 2 {
		t.Fatalf("fired %v, want both the timer and the one it armed", fired)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Sleep(time.Minute)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)
	wg.Wait()

	if got := c.Now(); !got.Equal(epoch.Add(time.Minute)) {
		t.Errorf("Now = %v, want %v", got, epoch.Add(time.Minute))
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(wallClock); !ok {
		t.Error("OrReal(nil) is not the wall clock")
	}
	fake := Fake(epoch)
	if OrReal(fake) != Clock(fake) {
		t.Error("OrReal replaced a provided clock")
	}
}
