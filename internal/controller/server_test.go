package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/matrix/internal/coordinator"
	"github.com/tenzoki/matrix/internal/logx"
	"github.com/tenzoki/matrix/internal/pipeline"
	"github.com/tenzoki/matrix/internal/rpc"
)

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, method string, params interface{}) error { return nil }

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	outbound := pipeline.NewOutboundQueue()
	fanout := pipeline.NewFanout(1)
	log := logx.New("test", "alpha", false)
	cfg := coordinator.Config{
		NodeName:       "alpha",
		NumAgentProcs:  1,
		NumControllers: 1,
		NumRounds:      1,
		ChunkSize:      1000,
		StrictDedup:    true,
	}
	coord := coordinator.New(cfg, outbound, fanout, noopPublisher{}, func() {}, log)
	srv := New(coord, fanout, log)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	return srv, func() { srv.Stop() }
}

func dialServer(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	addr := srv.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return conn, bufio.NewReader(conn)
}

func TestGetAgentProcSeedRoundTrip(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	conn, reader := dialServer(t, srv)
	defer conn.Close()

	req := rpc.Request{
		JSONRPC: rpc.ProtocolVersion,
		Method:  "get_agentproc_seed",
		Params:  json.RawMessage(`{"agentproc_id":0}`),
		ID:      json.RawMessage(`1`),
	}
	writeLine(t, conn, req)

	resp := readResponse(t, reader)
	assert.Nil(t, resp.Error)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	conn, reader := dialServer(t, srv)
	defer conn.Close()

	req := rpc.Request{
		JSONRPC: rpc.ProtocolVersion,
		Method:  "does_not_exist",
		ID:      json.RawMessage(`7`),
	}
	writeLine(t, conn, req)

	resp := readResponse(t, reader)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}

func TestMalformedLineGetsErrorResponseNotDisconnect(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	conn, reader := dialServer(t, srv)
	defer conn.Close()

	_, err := conn.Write([]byte("not valid json\n"))
	require.NoError(t, err)

	resp := readResponse(t, reader)
	require.NotNil(t, resp.Error, "expected an error response for malformed input")

	// Connection should still be usable afterward.
	req := rpc.Request{
		JSONRPC: rpc.ProtocolVersion,
		Method:  "get_agentproc_seed",
		Params:  json.RawMessage(`{"agentproc_id":0}`),
		ID:      json.RawMessage(`2`),
	}
	writeLine(t, conn, req)
	resp2 := readResponse(t, reader)
	assert.Nil(t, resp2.Error, "expected the connection to survive a malformed line")
}

func TestRegisterEventsNotificationGetsNoResponse(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	conn, reader := dialServer(t, srv)
	defer conn.Close()

	notif := rpc.Request{
		JSONRPC: rpc.ProtocolVersion,
		Method:  "register_events",
		Params:  json.RawMessage(`{"agentproc_id":0,"events":[]}`),
	}
	writeLine(t, conn, notif)

	// Follow with a normal request; the only line that should arrive is
	// this request's response, proving the notification produced none.
	req := rpc.Request{
		JSONRPC: rpc.ProtocolVersion,
		Method:  "get_agentproc_seed",
		Params:  json.RawMessage(`{"agentproc_id":0}`),
		ID:      json.RawMessage(`9`),
	}
	writeLine(t, conn, req)

	resp := readResponse(t, reader)
	var id int
	require.NoError(t, json.Unmarshal(resp.ID, &id))
	assert.Equal(t, 9, id, "expected response for id 9 (no response for the notification)")
}

func writeLine(t *testing.T, conn net.Conn, req rpc.Request) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	data = append(data, '\n')
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func readResponse(t *testing.T, reader *bufio.Reader) rpc.Response {
	t.Helper()
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}
