package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// HandlerFunc handles one RPC method. It may block (the caller is
// expected to run on its own goroutine per connection, so a blocking
// handler only suspends that connection, never the accept loop).
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Dispatcher maps method names to handlers, used both by the TCP
// listener (agent/store methods) and by the broker consumer
// (store_events/controller_finished notifications).
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Handle registers a handler for method.
func (d *Dispatcher) Handle(method string, h HandlerFunc) {
	d.handlers[method] = h
}

// Dispatch parses req, invokes the registered handler, and returns the
// Response to write back (nil for notifications). Any handler error
// becomes an error response (or is silently dropped for notifications,
// since notifications have no response channel).
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	h, ok := d.handlers[req.Method]
	if !ok {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	result, err := h(ctx, req.Params)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return resultResponse(req.ID, result)
}

// DispatchNotification invokes the handler for a notification-shaped
// request (no response expected or produced), returning any handler
// error directly to the caller (the broker consumer decides whether to
// ack based on this).
func (d *Dispatcher) DispatchNotification(ctx context.Context, method string, params json.RawMessage) error {
	h, ok := d.handlers[method]
	if !ok {
		return fmt.Errorf("method not found: %s", method)
	}
	_, err := h(ctx, params)
	return err
}
