// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/resonance/lib/testutil"
)

func TestSendQueueOrdersByPriority(t *testing.T) {
	q := newSendQueue()
	pushes := []struct {
		name     string
		priority Priority
	}{
		{"low-1", PriorityLow},
		{"normal-1", PriorityNormal},
		{"high-1", PriorityHigh},
		{"normal-2", PriorityNormal},
		{"low-2", PriorityLow},
		{"high-2", PriorityHigh},
	}
	for _, p := range pushes {
		if err := q.push(&outbound{frame: []byte(p.name), priority: p.priority}); err != nil {
			t.Fatalf("push %s: %v", p.name, err)
		}
	}

	want := []string{"high-1", "high-2", "normal-1", "normal-2", "low-1", "low-2"}
	for _, name := range want {
		item, ok := q.pop(context.Background())
		if !ok {
			t.Fatalf("pop returned false, want %s", name)
		}
		if string(item.frame) != name {
			t.Errorf("popped %s, want %s", item.frame, name)
		}
	}
}

func TestSendQueuePopWaitsForPush(t *testing.T) {
	q := newSendQueue()
	popped := make(chan string, 1)
	go func() {
		item, ok := q.pop(context.Background())
		if ok {
			popped <- string(item.frame)
		}
	}()

	if err := q.push(&outbound{frame: []byte("late")}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := testutil.RequireReceive(t, popped, 5*time.Second, "pop wakes on push"); got != "late" {
		t.Errorf("popped %q", got)
	}
}

func TestSendQueueClose(t *testing.T) {
	q := newSendQueue()
	done := make(chan error, 1)
	if err := q.push(&outbound{frame: []byte("queued"), done: done}); err != nil {
		t.Fatalf("push: %v", err)
	}

	closed := errors.New("closed for testing")
	q.close(closed)

	if err := testutil.RequireReceive(t, done, time.Second, "queued frame is rejected"); !errors.Is(err, closed) {
		t.Errorf("queued frame got %v, want the close error", err)
	}
	if err := q.push(&outbound{frame: []byte("after")}); !errors.Is(err, closed) {
		t.Errorf("push after close = %v, want the close error", err)
	}
	if _, ok := q.pop(context.Background()); ok {
		t.Error("pop after close returned a frame")
	}
	q.close(errors.New("second close is ignored"))
}

func TestSendQueuePopStopsOnContext(t *testing.T) {
	q := newSendQueue()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan bool, 1)
	go func() {
		_, ok := q.pop(ctx)
		result <- ok
	}()
	cancel()
	if ok := testutil.RequireReceive(t, result, 5*time.Second, "pop returns on cancel"); ok {
		t.Error("pop returned a frame from an empty queue")
	}
}
