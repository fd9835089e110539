// Package coordinator implements the round barrier: the per-round
// global rendezvous that synchronises every node's agent processes,
// counts finished peer controllers, and drives the event pipeline's
// FLUSH/SIMEND signals. This is the specification's Round coordinator
// component (C5).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"encoding/json"

	"github.com/tenzoki/matrix/internal/logx"
	"github.com/tenzoki/matrix/internal/pipeline"
	"github.com/tenzoki/matrix/internal/seedstream"
)

// Publisher is the narrow broker capability the coordinator needs to
// announce controller_finished.
type Publisher interface {
	Publish(ctx context.Context, method string, params interface{}) error
}

// FatalFunc terminates the process on an unrecoverable broker fault
// encountered while driving the barrier (BrokerTransientError, per the
// specification's error-handling design).
type FatalFunc func()

// Round is the value returned to an agent released from
// can_we_start_yet.
type Round struct {
	CurRound  int   `json:"cur_round"`
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

// EndedRound is returned after SIMEND, per the specification.
var EndedRound = Round{CurRound: -1, StartTime: -1, EndTime: -1}

// Config parameterizes one node's coordinator instance.
type Config struct {
	NodeName       string
	NumAgentProcs  int
	NumControllers int
	NumRounds      int
	RootSeed       uint32
	ControllerSeed uint32
	ChunkSize      int
	BaseStart      int64
	RoundSeconds   int64
	StrictDedup    bool
}

// Coordinator is the barrier state machine. All mutable fields are
// guarded by mu; every transition below is atomic with respect to every
// other transition, per the specification's concurrency model.
type Coordinator struct {
	cfg Config
	log *logx.Logger

	outbound *pipeline.OutboundQueue
	fanout   *pipeline.Fanout
	pub      Publisher
	fatal    FatalFunc

	mu            sync.Mutex
	cond          *sync.Cond
	curRound      int
	numAPWaiting  int
	numCPFinished int
	finishedNodes map[string]bool
	generation    int
	ended         bool
	doneOnce      sync.Once
	done          chan struct{}

	seeds []uint32
}

// New constructs a Coordinator. Agent-process seeds are derived once,
// immediately, from cfg.ControllerSeed, per the seed-stream invariant
// that they are a pure function of (root_seed, sim_nodes_order,
// num_agentprocs[node], agent_index).
func New(cfg Config, outbound *pipeline.OutboundQueue, fanout *pipeline.Fanout, pub Publisher, fatal FatalFunc, log *logx.Logger) *Coordinator {
	c := &Coordinator{
		cfg:           cfg,
		log:           log,
		outbound:      outbound,
		fanout:        fanout,
		pub:           pub,
		fatal:         fatal,
		finishedNodes: make(map[string]bool, cfg.NumControllers),
		seeds:         seedstream.DeriveAgentSeeds(cfg.ControllerSeed, cfg.NumAgentProcs),
		done:          make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// GetAgentProcSeed returns the deterministic seed for agentProcID.
func (c *Coordinator) GetAgentProcSeed(agentProcID int) (uint32, error) {
	if agentProcID < 0 || agentProcID >= len(c.seeds) {
		return 0, fmt.Errorf("agentproc_id %d out of range [0,%d)", agentProcID, len(c.seeds))
	}
	return c.seeds[agentProcID], nil
}

// CanWeStartYet parks the calling agent process on the barrier until
// this node's round advances, per the state machine in the
// specification's Round coordinator section. The agent that observes
// the local trip condition (all agent processes parked) drains the
// outbound queue and publishes controller_finished before parking
// itself, identically to every other caller.
func (c *Coordinator) CanWeStartYet(ctx context.Context, agentProcID int) (Round, error) {
	if agentProcID < 0 || agentProcID >= c.cfg.NumAgentProcs {
		return Round{}, fmt.Errorf("agentproc_id %d out of range [0,%d)", agentProcID, c.cfg.NumAgentProcs)
	}

	c.mu.Lock()
	c.numAPWaiting++
	trip := c.numAPWaiting == c.cfg.NumAgentProcs
	gen := c.generation
	c.mu.Unlock()

	if trip {
		if err := c.tripLocalBarrier(ctx); err != nil {
			return Round{}, err
		}
	}

	return c.awaitRelease(ctx, gen)
}

// Start performs the startup-time trip check: a node configured with
// zero local agent processes trips its barrier immediately, without
// waiting for any can_we_start_yet call, per the boundary case in the
// specification ("num_agentprocs[node] = 0 causes the node to trip its
// local condition immediately").
func (c *Coordinator) Start(ctx context.Context) error {
	if c.cfg.NumAgentProcs == 0 {
		return c.tripLocalBarrier(ctx)
	}
	return nil
}

// tripLocalBarrier drains the outbound queue and publishes
// controller_finished for this node's current round.
func (c *Coordinator) tripLocalBarrier(ctx context.Context) error {
	c.awaitOutboundEmpty(ctx)
	if err := c.pub.Publish(ctx, "controller_finished", map[string]string{"nodename": c.cfg.NodeName}); err != nil {
		c.log.Tagged("BrokerTransientError", "publish controller_finished failed: %v", err)
		c.fatal()
		return err
	}
	return nil
}

func (c *Coordinator) awaitOutboundEmpty(ctx context.Context) {
	const pollInterval = 2 * time.Millisecond
	for !c.outbound.Empty() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

func (c *Coordinator) awaitRelease(ctx context.Context, gen int) (Round, error) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		c.cond.Broadcast()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.generation == gen {
		select {
		case <-done:
			return Round{}, ctx.Err()
		default:
		}
		c.cond.Wait()
	}

	if c.ended {
		return EndedRound, nil
	}
	return Round{
		CurRound:  c.curRound,
		StartTime: c.cfg.BaseStart + c.cfg.RoundSeconds*int64(c.curRound-1),
		EndTime:   c.cfg.BaseStart + c.cfg.RoundSeconds*int64(c.curRound),
	}, nil
}

// RegisterEvents chunks events and enqueues them onto the local-outbound
// queue. The core does not validate that the caller is still within the
// round it believes it is in, per the specification's tie-break.
func (c *Coordinator) RegisterEvents(events []json.RawMessage) {
	for _, chunk := range pipeline.Chunk(events, c.cfg.ChunkSize) {
		c.outbound.Enqueue(chunk)
	}
}

// OnControllerFinished handles an inbound controller_finished
// notification from node (possibly this node, via the broker's own
// fanout echo). A duplicate from the same node within one round is
// rejected when StrictDedup is set, matching the specification's
// explicit dedup requirement.
func (c *Coordinator) OnControllerFinished(ctx context.Context, node string) error {
	c.mu.Lock()
	if c.cfg.StrictDedup && c.finishedNodes[node] {
		c.mu.Unlock()
		c.log.Debug("duplicate controller_finished from %s ignored", node)
		return nil
	}
	c.finishedNodes[node] = true
	c.numCPFinished++
	trip := c.numCPFinished == c.cfg.NumControllers
	c.mu.Unlock()

	if !trip {
		return nil
	}
	return c.advanceRound(ctx)
}

func (c *Coordinator) advanceRound(ctx context.Context) error {
	c.fanout.BroadcastFlush()
	c.fanout.AwaitAllDrained(ctx)

	c.mu.Lock()
	c.curRound++
	c.numAPWaiting = 0
	c.numCPFinished = 0
	c.finishedNodes = make(map[string]bool, c.cfg.NumControllers)
	terminal := c.curRound == c.cfg.NumRounds+1
	c.mu.Unlock()

	if terminal {
		c.outbound.Close()
		c.fanout.BroadcastSimEnd()
		c.fanout.AwaitAllDrained(ctx)

		c.mu.Lock()
		c.ended = true
		c.generation++
		c.mu.Unlock()
		c.cond.Broadcast()
		c.doneOnce.Do(func() { close(c.done) })
		return nil
	}

	c.mu.Lock()
	c.generation++
	c.mu.Unlock()
	c.cond.Broadcast()

	if c.cfg.NumAgentProcs == 0 {
		return c.tripLocalBarrier(ctx)
	}
	return nil
}

// Ended reports whether the simulation has reached SIMEND.
func (c *Coordinator) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Done returns a channel closed once the simulation reaches SIMEND,
// mirroring eventlogger.Logger.done — the clean-completion signal a
// driving loop selects on instead of polling Ended().
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// CurRound reports the current round counter, for diagnostics/tests.
func (c *Coordinator) CurRound() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curRound
}
