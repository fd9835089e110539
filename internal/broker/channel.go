// Package broker connects a controller (or event logger) node to the
// shared AMQP fanout exchange that carries store_events and
// controller_finished notifications between peer nodes, per the
// specification's Broker channel component.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/tenzoki/matrix/internal/matrixerr"
	"github.com/tenzoki/matrix/internal/rpc"
)

// Config describes how to reach the broker and which fanout exchange to
// use.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Exchange string

	// ConnectTimeout bounds how long Dial retries before giving up.
	ConnectTimeout time.Duration
	// RetryInterval is the backoff between connection attempts.
	RetryInterval time.Duration
}

// Channel wraps one AMQP connection, one channel, the declared fanout
// exchange, and this node's exclusive receive queue.
type Channel struct {
	conn        *amqp091.Connection
	ch          *amqp091.Channel
	queue       amqp091.Queue
	cfg         Config
	nodeTag     string
	consumerTag string

	// publishMu serialises every PublishWithContext call on this
	// connection: the pipeline's SharePump goroutine and the
	// coordinator's own controller_finished publish (tripLocalBarrier)
	// both call Publish on the same *Channel from different goroutines.
	publishMu sync.Mutex
}

// Dial connects to the broker, declaring the fanout exchange and this
// node's exclusive server-named queue bound to it. It retries with a
// fixed backoff until cfg.ConnectTimeout elapses, then returns a
// *matrixerr.BrokerConnectError.
func Dial(ctx context.Context, cfg Config, nodeTag string) (*Channel, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 60 * time.Second
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 2 * time.Second
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.Username, cfg.Password, cfg.Host, cfg.Port)

	deadline := time.Now().Add(cfg.ConnectTimeout)
	var lastErr error
	for {
		conn, err := amqp091.Dial(url)
		if err == nil {
			ch, err := conn.Channel()
			if err != nil {
				conn.Close()
				lastErr = err
			} else {
				if err := ch.ExchangeDeclare(cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
					ch.Close()
					conn.Close()
					lastErr = err
				} else {
					q, err := ch.QueueDeclare("", false, true, true, false, nil)
					if err != nil {
						ch.Close()
						conn.Close()
						lastErr = err
					} else if err := ch.QueueBind(q.Name, "", cfg.Exchange, false, nil); err != nil {
						ch.Close()
						conn.Close()
						lastErr = err
					} else {
						tag := fmt.Sprintf("matrix-%s-%s", nodeTag, uuid.New().String())
						return &Channel{conn: conn, ch: ch, queue: q, cfg: cfg, nodeTag: nodeTag, consumerTag: tag}, nil
					}
				}
			}
		} else {
			lastErr = err
		}

		if time.Now().After(deadline) {
			return nil, &matrixerr.BrokerConnectError{Cause: lastErr}
		}
		select {
		case <-ctx.Done():
			return nil, &matrixerr.BrokerConnectError{Cause: ctx.Err()}
		case <-time.After(cfg.RetryInterval):
		}
	}
}

// Publish marshals a JSON-RPC notification and publishes it to the
// fanout exchange. Publishing is fire-and-forget; delivery ordering on
// a single connection is FIFO, which combined with the coordinator's
// drain-before-publish discipline guarantees store_events for round r
// precede controller_finished for round r at every receiver.
func (c *Channel) Publish(ctx context.Context, method string, params interface{}) error {
	req, err := rpc.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	return c.ch.PublishWithContext(ctx, c.cfg.Exchange, "", false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// NotificationHandler processes one received notification's method and
// params. A non-nil error causes the delivery to be nacked (without
// requeue — a malformed message is not retried, per the core's
// "log and exit" stance on unrecoverable broker-side faults).
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage) error

// Consume runs the delivery loop against this node's queue until ctx is
// cancelled or the channel closes. Each delivery is manually acked only
// after handler returns nil.
func (c *Channel) Consume(ctx context.Context, handler NotificationHandler) error {
	msgs, err := c.ch.Consume(c.queue.Name, c.consumerTag, false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("broker delivery channel closed")
			}
			var req rpc.Request
			if err := json.Unmarshal(d.Body, &req); err != nil {
				d.Nack(false, false)
				continue
			}
			if err := handler(ctx, req.Method, req.Params); err != nil {
				d.Nack(false, false)
				continue
			}
			d.Ack(false)
		}
	}
}

// Close tears down the channel and connection. Idempotent.
func (c *Channel) Close() error {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
