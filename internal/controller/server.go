// Package controller implements the local TCP, line-delimited
// JSON-RPC 2.0 service that agent and store worker processes use to
// drive and drain the round coordinator, per the specification's
// Controller server component (C6).
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/tenzoki/matrix/internal/coordinator"
	"github.com/tenzoki/matrix/internal/logx"
	"github.com/tenzoki/matrix/internal/matrixerr"
	"github.com/tenzoki/matrix/internal/pipeline"
	"github.com/tenzoki/matrix/internal/rpc"
)

// Server binds a TCP listener and dispatches agent/store RPC methods
// against a Coordinator and a Fanout.
type Server struct {
	listener net.Listener
	coord    *coordinator.Coordinator
	fanout   *pipeline.Fanout
	log      *logx.Logger

	dispatcher *rpc.Dispatcher

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	stopped bool

	wg sync.WaitGroup
}

// New builds the method dispatcher (get_agentproc_seed,
// can_we_start_yet, register_events, get_events) from coord and fanout.
func New(coord *coordinator.Coordinator, fanout *pipeline.Fanout, log *logx.Logger) *Server {
	s := &Server{
		coord:  coord,
		fanout: fanout,
		log:    log,
		conns:  make(map[net.Conn]struct{}),
	}
	s.dispatcher = buildDispatcher(coord, fanout)
	return s
}

func buildDispatcher(coord *coordinator.Coordinator, fanout *pipeline.Fanout) *rpc.Dispatcher {
	d := rpc.NewDispatcher()

	d.Handle("get_agentproc_seed", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p struct {
			AgentProcID int `json:"agentproc_id"`
		}
		if err := rpc.DecodeParams(params, []string{"agentproc_id"}, &p); err != nil {
			return nil, err
		}
		return coord.GetAgentProcSeed(p.AgentProcID)
	})

	d.Handle("can_we_start_yet", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p struct {
			AgentProcID int `json:"agentproc_id"`
		}
		if err := rpc.DecodeParams(params, []string{"agentproc_id"}, &p); err != nil {
			return nil, err
		}
		return coord.CanWeStartYet(ctx, p.AgentProcID)
	})

	d.Handle("register_events", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p struct {
			AgentProcID int               `json:"agentproc_id"`
			Events      []json.RawMessage `json:"events"`
		}
		if err := rpc.DecodeParams(params, []string{"agentproc_id", "events"}, &p); err != nil {
			return nil, err
		}
		coord.RegisterEvents(p.Events)
		return true, nil
	})

	d.Handle("get_events", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p struct {
			StoreProcID int `json:"storeproc_id"`
		}
		if err := rpc.DecodeParams(params, []string{"storeproc_id"}, &p); err != nil {
			return nil, err
		}
		q := fanout.Queue(p.StoreProcID)
		if q == nil {
			return nil, fmt.Errorf("storeproc_id %d out of range", p.StoreProcID)
		}
		item, err := q.Drain(ctx)
		if err != nil {
			return nil, err
		}
		return itemToResult(item), nil
	})

	return d
}

func itemToResult(item pipeline.Item) map[string]interface{} {
	switch item.Kind {
	case pipeline.KindEvents:
		return map[string]interface{}{"code": "EVENTS", "events": item.Events}
	case pipeline.KindFlush:
		return map[string]interface{}{"code": "FLUSH"}
	case pipeline.KindSimEnd:
		return map[string]interface{}{"code": "SIMEND"}
	default:
		return map[string]interface{}{"code": "UNKNOWN"}
	}
}

// Listen binds the TCP address and starts accepting connections on a
// background goroutine. Accept errors after Stop are expected and
// silent.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = l
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			s.log.Error("accept error: %v", err)
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	codec := rpc.NewCodec(conn)
	ctx := context.Background()

	for {
		req, err := codec.ReadRequest()
		if err != nil {
			var protoErr *matrixerr.ProtocolError
			if errors.As(err, &protoErr) {
				resp := rpc.ParseErrorResponse(protoErr)
				if req != nil && !req.IsNotification() {
					resp.ID = req.ID
				}
				if werr := codec.WriteResponse(resp); werr != nil {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				s.log.Debug("connection read error: %v", err)
			}
			return
		}
		resp := s.dispatcher.Dispatch(ctx, req)
		if resp == nil {
			continue // notification: no response
		}
		if err := codec.WriteResponse(resp); err != nil {
			return
		}
	}
}

// Stop closes the listener (refusing new connections), then closes
// every tracked connection to unblock its handler's blocking
// codec.ReadRequest, and waits for every serveConn goroutine to exit.
// There is no grace period for an in-flight frame: serveConn reads
// with a plain context.Background(), so closing the socket is the only
// way to interrupt a handler parked in ReadRequest.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}

	s.wg.Wait()
}
