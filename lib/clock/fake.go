// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// Safe for concurrent use.
//
// AfterFunc callbacks run synchronously on the goroutine calling
// Advance, in deadline order. A callback must not call Advance or
// Sleep on the same clock.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	queue   waiterQueue
	counter uint64
	armed   *sync.Cond
}

// Fake returns a FakeClock that starts at initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.armed = sync.NewCond(&c.mu)
	return c
}

type waiter struct {
	deadline time.Time
	sequence uint64
	channel  chan time.Time
	callback func()
	index    int // position in the heap, -1 when not queued
}

// waiterQueue orders waiters by deadline, then by arming order so two
// timers with the same deadline fire in the order they were created.
type waiterQueue []*waiter

func (q waiterQueue) Len() int { return len(q) }

func (q waiterQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].sequence < q[j].sequence
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q waiterQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waiterQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waiterQueue) Pop() any {
	old := *q
	last := old[len(old)-1]
	old[len(old)-1] = nil
	last.index = -1
	*q = old[:len(old)-1]
	return last
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock has been
// advanced by d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.armLocked(&waiter{deadline: c.now.Add(d), channel: channel, index: -1})
	return channel
}

// AfterFunc schedules f. A non-positive d runs f before returning.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	w := &waiter{deadline: c.now.Add(d), callback: f, index: -1}
	c.armLocked(w)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w.index < 0 {
				return false
			}
			heap.Remove(&c.queue, w.index)
			return true
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			pending := w.index >= 0
			if pending {
				heap.Remove(&c.queue, w.index)
			}
			w.deadline = c.now.Add(d)
			c.armLocked(w)
			return pending
		},
	}
}

// Sleep blocks until the clock has been advanced by d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

func (c *FakeClock) armLocked(w *waiter) {
	c.counter++
	w.sequence = c.counter
	heap.Push(&c.queue, w)
	c.armed.Broadcast()
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls inside the window. The clock steps to each deadline
// before its waiter fires, so a callback that arms another timer
// inside the window sees that timer fire during the same Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.queue.Len() == 0 || c.queue[0].deadline.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		w := heap.Pop(&c.queue).(*waiter)
		if w.deadline.After(c.now) {
			c.now = w.deadline
		}
		c.mu.Unlock()

		if w.callback != nil {
			w.callback()
			continue
		}
		select {
		case w.channel <- w.deadline:
		default:
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.queue.Len() < n {
		c.armed.Wait()
	}
}

// PendingCount returns the number of armed waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}
