package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewOutboundQueue()
	first := []json.RawMessage{json.RawMessage(`{"a":1}`)}
	second := []json.RawMessage{json.RawMessage(`{"a":2}`)}
	q.Enqueue(first)
	q.Enqueue(second)

	ctx := context.Background()
	got1, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, string(first[0]), string(got1[0]))
	q.Done()

	got2, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, string(second[0]), string(got2[0]))
	q.Done()
}

func TestOutboundQueueEmptyRequiresDone(t *testing.T) {
	q := NewOutboundQueue()
	q.Enqueue([]json.RawMessage{json.RawMessage(`{}`)})

	ctx := context.Background()
	assert.False(t, q.Empty(), "queue should not be empty before dequeue")
	_, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.False(t, q.Empty(), "queue should still be considered non-empty: publish is in flight until Done")
	q.Done()
	assert.True(t, q.Empty(), "queue should be empty once Done is called with nothing left")
}

func TestOutboundQueueCloseDrainsToNotOK(t *testing.T) {
	q := NewOutboundQueue()
	q.Close()

	ctx := context.Background()
	_, ok := q.Dequeue(ctx)
	assert.False(t, ok, "expected ok=false on a closed, empty queue")
}

func TestOutboundQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewOutboundQueue()
	done := make(chan []json.RawMessage, 1)
	go func() {
		chunk, ok := q.Dequeue(context.Background())
		if ok {
			done <- chunk
		} else {
			done <- nil
		}
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("dequeue should still be blocked with nothing enqueued")
	default:
	}

	q.Enqueue([]json.RawMessage{json.RawMessage(`{"x":1}`)})
	select {
	case chunk := <-done:
		assert.NotNil(t, chunk)
	case <-time.After(time.Second):
		t.Fatalf("dequeue did not unblock after enqueue")
	}
}

func TestOutboundQueueDequeueCancelledByContext(t *testing.T) {
	q := NewOutboundQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok, "expected ok=false after context cancellation")
	case <-time.After(time.Second):
		t.Fatalf("Dequeue did not return after context cancellation")
	}
}
