package pipeline

import (
	"context"
	"encoding/json"

	"github.com/tenzoki/matrix/internal/logx"
)

// Publisher is the narrow broker capability the share-events pump needs;
// satisfied by *broker.Channel.
type Publisher interface {
	Publish(ctx context.Context, method string, params interface{}) error
}

// StoreEventsNotification is the store_events{nodename, events} payload
// published to the fanout exchange.
type StoreEventsNotification struct {
	NodeName string            `json:"nodename"`
	Events   []json.RawMessage `json:"events"`
}

// SharePump is the single long-running task that dequeues chunked
// batches from the local-outbound queue and publishes them as
// store_events notifications, per the specification's Event pipeline
// component. It stops when the queue closes.
type SharePump struct {
	node string
	out  *OutboundQueue
	pub  Publisher
	log  *logx.Logger
}

// NewSharePump creates a pump for node, draining out and publishing via
// pub.
func NewSharePump(node string, out *OutboundQueue, pub Publisher, log *logx.Logger) *SharePump {
	return &SharePump{node: node, out: out, pub: pub, log: log}
}

// Run drains the outbound queue until it closes or ctx is cancelled.
// Intended to run on its own goroutine.
func (p *SharePump) Run(ctx context.Context) {
	for {
		chunk, ok := p.out.Dequeue(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			// Queue closed with nothing left: terminate, per the
			// nil-sentinel contract.
			return
		}
		notif := StoreEventsNotification{NodeName: p.node, Events: chunk}
		err := p.pub.Publish(ctx, "store_events", notif)
		p.out.Done()
		if err != nil {
			p.log.Tagged("BrokerTransientError", "publish store_events failed: %v", err)
			return
		}
	}
}
