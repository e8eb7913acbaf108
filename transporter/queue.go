// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transporter

import (
	"container/heap"
	"context"
	"sync"
)

// outbound is one frame waiting for the writer. A nil frame is a flush
// marker: the writer signals done without writing anything.
type outbound struct {
	frame    []byte
	priority Priority
	sequence uint64

	// done receives the write result. Nil for frames nobody waits on,
	// such as handshake messages and keep-alive replies.
	done chan error
}

type outboundHeap []*outbound

func (h outboundHeap) Len() int { return len(h) }

func (h outboundHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].sequence < h[j].sequence
}

func (h outboundHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *outboundHeap) Push(x any) { *h = append(*h, x.(*outbound)) }

func (h *outboundHeap) Pop() any {
	old := *h
	item := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return item
}

// sendQueue is the priority queue between senders and the writer
// goroutine. Pushing never blocks.
type sendQueue struct {
	mu       sync.Mutex
	items    outboundHeap
	sequence uint64
	closed   bool
	err      error
	wake     chan struct{}
}

func newSendQueue() *sendQueue {
	return &sendQueue{wake: make(chan struct{}, 1)}
}

func (q *sendQueue) push(item *outbound) error {
	q.mu.Lock()
	if q.closed {
		err := q.err
		q.mu.Unlock()
		return err
	}
	q.sequence++
	item.sequence = q.sequence
	heap.Push(&q.items, item)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// pop blocks for the highest-priority frame. It returns false when the
// queue is closed or ctx ends.
func (q *sendQueue) pop(ctx context.Context) (*outbound, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(*outbound)
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// close rejects queued frames and every later push with err.
func (q *sendQueue) close(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.err = err
	remaining := q.items
	q.items = nil
	q.mu.Unlock()
	for _, item := range remaining {
		if item.done != nil {
			item.done <- err
		}
	}
}
