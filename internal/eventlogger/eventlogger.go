// Package eventlogger implements the optional event logger: a
// controller-shaped peer that opens no TCP listener, only consumes the
// fanout stream, and archives every event to a gzip-compressed JSONL
// file, per the specification's Event logger component (C7). Grounded
// on the session-file gzip idiom this module's ambient stack carries
// forward, and on original_source/matrix/eventlog.py's per-line JSON
// format.
package eventlogger

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/tenzoki/matrix/internal/broker"
	"github.com/tenzoki/matrix/internal/logx"
	"github.com/tenzoki/matrix/internal/pipeline"
	"github.com/tenzoki/matrix/internal/rpc"
)

// Logger consumes store_events/controller_finished from the fanout
// exchange, appends events to a compressed log, and terminates once
// every node has reported num_rounds+1 controller_finished rounds.
type Logger struct {
	ch        *broker.Channel
	log       *logx.Logger
	numRounds int
	nodes     []string
	runID     string

	mu       sync.Mutex
	counts   map[string]int
	doneOnce sync.Once
	done     chan struct{}

	gz  *gzip.Writer
	enc *json.Encoder
	f   *os.File
}

// New opens outPath for gzip-compressed JSONL event logging.
func New(ch *broker.Channel, outPath string, nodes []string, numRounds int, log *logx.Logger) (*Logger, error) {
	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create event log %s: %w", outPath, err)
	}
	gz := gzip.NewWriter(f)
	l := &Logger{
		ch:        ch,
		log:       log,
		numRounds: numRounds,
		nodes:     nodes,
		runID:     uuid.New().String(),
		counts:    make(map[string]int, len(nodes)),
		done:      make(chan struct{}),
		gz:        gz,
		enc:       json.NewEncoder(gz),
		f:         f,
	}
	if err := l.enc.Encode(struct {
		RunID string `json:"run_id"`
	}{RunID: l.runID}); err != nil {
		f.Close()
		return nil, fmt.Errorf("write event log header: %w", err)
	}
	return l, nil
}

// Run consumes the fanout exchange until every node has reported
// num_rounds+1 finishes, or ctx is cancelled.
func (l *Logger) Run(ctx context.Context) error {
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.ch.Consume(consumeCtx, l.handle)
	}()

	select {
	case <-l.done:
		cancel()
		<-errCh
		return l.close()
	case err := <-errCh:
		l.close()
		return err
	case <-ctx.Done():
		return l.close()
	}
}

func (l *Logger) handle(ctx context.Context, method string, params json.RawMessage) error {
	switch method {
	case "store_events":
		return l.handleStoreEvents(params)
	case "controller_finished":
		return l.handleControllerFinished(params)
	default:
		return nil
	}
}

func (l *Logger) handleStoreEvents(params json.RawMessage) error {
	var notif pipeline.StoreEventsNotification
	if err := rpc.DecodeParams(params, []string{"nodename", "events"}, &notif); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range notif.Events {
		if err := l.enc.Encode(ev); err != nil {
			return fmt.Errorf("write event log line: %w", err)
		}
	}
	return nil
}

func (l *Logger) handleControllerFinished(params json.RawMessage) error {
	var notif struct {
		NodeName string `json:"nodename"`
	}
	if err := rpc.DecodeParams(params, []string{"nodename"}, &notif); err != nil {
		return err
	}

	l.mu.Lock()
	l.counts[notif.NodeName]++
	allDone := len(l.counts) == len(l.nodes)
	if allDone {
		for _, n := range l.nodes {
			if l.counts[n] < l.numRounds+1 {
				allDone = false
				break
			}
		}
	}
	l.mu.Unlock()

	if allDone {
		l.doneOnce.Do(func() { close(l.done) })
	}
	return nil
}

func (l *Logger) close() error {
	if err := l.gz.Close(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
