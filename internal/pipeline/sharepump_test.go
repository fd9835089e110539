package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tenzoki/matrix/internal/logx"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []StoreEventsNotification
	failNext  bool
}

func (p *fakePublisher) Publish(ctx context.Context, method string, params interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return errPublishFailed
	}
	notif, _ := params.(StoreEventsNotification)
	p.published = append(p.published, notif)
	return nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const errPublishFailed = simpleErr("publish failed")

func TestSharePumpPublishesAndMarksDone(t *testing.T) {
	out := NewOutboundQueue()
	pub := &fakePublisher{}
	log := logx.New("test", "node-a", false)
	pump := NewSharePump("node-a", out, pub, log)

	ctx, cancel := context.WithCancel(context.Background())
	go pump.Run(ctx)

	out.Enqueue([]json.RawMessage{json.RawMessage(`{"e":1}`)})

	deadline := time.After(time.Second)
	for {
		pub.mu.Lock()
		n := len(pub.published)
		pub.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for publish")
		case <-time.After(5 * time.Millisecond):
		}
	}

	assert.True(t, out.Empty(), "queue should be empty once the publish completed and Done was called")

	cancel()
	out.Close()
}

func TestSharePumpStopsOnQueueClose(t *testing.T) {
	out := NewOutboundQueue()
	pub := &fakePublisher{}
	log := logx.New("test", "node-a", false)
	pump := NewSharePump("node-a", out, pub, log)

	runDone := make(chan struct{})
	go func() {
		pump.Run(context.Background())
		close(runDone)
	}()

	out.Close()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatalf("pump did not stop after queue closed")
	}
}
