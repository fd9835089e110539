// Package pipeline implements the bounded-pace, logically unbounded
// event queues described by the specification's Event pipeline
// component: one local-outbound queue feeding the broker, and one
// per-store-process queue per local store worker.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
)

// OutboundQueue buffers chunked event batches awaiting publication to
// the broker. A Close() call is this queue's nil-sentinel equivalent,
// used to terminate the share-events pump at SIMEND.
type OutboundQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   [][]json.RawMessage
	closed  bool
	pending int // dequeued but not yet marked Done (publish in flight)
}

// NewOutboundQueue creates an empty queue.
func NewOutboundQueue() *OutboundQueue {
	q := &OutboundQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends one chunk. No-op once Close has been called.
func (q *OutboundQueue) Enqueue(chunk []json.RawMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, chunk)
	q.cond.Signal()
}

// Dequeue blocks until an item is available, the queue closes, or ctx is
// cancelled. ok is false once the queue is closed and drained.
func (q *OutboundQueue) Dequeue(ctx context.Context) (chunk []json.RawMessage, ok bool) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		select {
		case <-done:
			return nil, false
		default:
		}
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	chunk = q.items[0]
	q.items = q.items[1:]
	q.pending++
	return chunk, true
}

// Done marks one previously-dequeued chunk's publish as complete. Must
// be called exactly once per successful Dequeue so that Empty reflects
// "fully published", not merely "removed from the queue" — the
// specification requires every one of a node's store_events for round r
// to have actually been published before that node's
// controller_finished, not merely scheduled.
func (q *OutboundQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	q.cond.Broadcast()
}

// Empty reports whether the queue currently holds no items and no
// publish is in flight. Used by the coordinator to await queue-empty
// before publishing controller_finished.
func (q *OutboundQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.pending == 0
}

// Close marks the queue closed; pending Dequeue calls observing an empty
// queue return ok=false.
func (q *OutboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
