package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutBroadcastReachesEveryQueue(t *testing.T) {
	f := NewFanout(3)
	events := []json.RawMessage{json.RawMessage(`{"a":1}`)}
	f.BroadcastEvents(events)

	ctx := context.Background()
	for i := 0; i < f.NumQueues(); i++ {
		item, err := f.Queue(i).Drain(ctx)
		require.NoError(t, err, "queue %d", i)
		assert.Equal(t, KindEvents, item.Kind, "queue %d", i)
		assert.Len(t, item.Events, 1, "queue %d", i)
	}
}

func TestFanoutQueueOutOfRange(t *testing.T) {
	f := NewFanout(2)
	assert.Nil(t, f.Queue(-1))
	assert.Nil(t, f.Queue(2))
}

func TestFanoutAwaitAllDrained(t *testing.T) {
	f := NewFanout(2)
	f.BroadcastFlush()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		f.AwaitAllDrained(ctx)
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatalf("AwaitAllDrained should not return until queues are drained")
	case <-time.After(20 * time.Millisecond):
	}

	for i := 0; i < f.NumQueues(); i++ {
		_, err := f.Queue(i).Drain(ctx)
		require.NoError(t, err, "queue %d", i)
	}

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatalf("AwaitAllDrained did not return after all queues drained")
	}
}

func TestFanoutBroadcastSimEnd(t *testing.T) {
	f := NewFanout(1)
	f.BroadcastSimEnd()

	item, err := f.Queue(0).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindSimEnd, item.Kind)
}
