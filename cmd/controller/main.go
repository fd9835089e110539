// Command controller runs one node's Controller server: the TCP
// JSON-RPC service that drives the round barrier and the event
// pipeline, and the broker consumer that links it to its peers, per
// the specification's top-level process layout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tenzoki/matrix/internal/broker"
	"github.com/tenzoki/matrix/internal/config"
	"github.com/tenzoki/matrix/internal/controller"
	"github.com/tenzoki/matrix/internal/coordinator"
	"github.com/tenzoki/matrix/internal/logx"
	"github.com/tenzoki/matrix/internal/matrixerr"
	"github.com/tenzoki/matrix/internal/pipeline"
	"github.com/tenzoki/matrix/internal/rpc"
	"github.com/tenzoki/matrix/internal/seedstream"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the cluster YAML configuration")
	nodeName := flag.String("node", "", "this controller's name in sim_nodes")
	flag.Parse()

	if *configPath == "" || *nodeName == "" {
		fmt.Fprintln(os.Stderr, "usage: controller -config matrix.yaml -node <nodename>")
		return matrixerr.ExitCode(&matrixerr.ConfigError{Field: "flags", Cause: fmt.Errorf("-config and -node are required")})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("config error: %v", err)
		return matrixerr.ExitCode(err)
	}

	log := logx.New("controller", *nodeName, cfg.Debug)

	nodeIndex, err := cfg.NodeIndex(*nodeName)
	if err != nil {
		cfgErr := &matrixerr.ConfigError{Field: "node", Cause: err}
		log.Tagged("ConfigError", "%v", cfgErr)
		return matrixerr.ExitCode(cfgErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controllerSeeds := seedstream.DeriveControllerSeeds(uint32(cfg.RootSeed), len(cfg.SimNodes))
	controllerSeed := controllerSeeds[nodeIndex]

	brokerCfg := broker.Config{
		Host:           cfg.RabbitMQHost,
		Port:           cfg.RabbitMQPort,
		Username:       cfg.RabbitMQUsername,
		Password:       cfg.RabbitMQPassword,
		Exchange:       cfg.EventExchange,
		ConnectTimeout: config.BrokerConnectTimeout,
	}
	ch, err := broker.Dial(ctx, brokerCfg, *nodeName)
	if err != nil {
		log.Tagged("BrokerConnectError", "%v", err)
		return matrixerr.ExitCode(err)
	}
	defer ch.Close()

	outbound := pipeline.NewOutboundQueue()
	fanout := pipeline.NewFanout(cfg.NumStoreProcs[*nodeName])

	var exitCode int
	var exitOnce sync.Once
	fatal := func() {
		exitOnce.Do(func() {
			exitCode = matrixerr.ExitCode(&matrixerr.BrokerTransientError{Cause: fmt.Errorf("fatal coordinator fault")})
			cancel()
		})
	}

	coordCfg := coordinator.Config{
		NodeName:       *nodeName,
		NumAgentProcs:  cfg.NumAgentProcs[*nodeName],
		NumControllers: len(cfg.SimNodes),
		NumRounds:      cfg.NumRounds,
		RootSeed:       uint32(cfg.RootSeed),
		ControllerSeed: controllerSeed,
		ChunkSize:      cfg.ChunkSize,
		BaseStart:      cfg.StartUnix(),
		RoundSeconds:   cfg.RoundSeconds(),
		StrictDedup:    *cfg.StrictDedup,
	}
	coord := coordinator.New(coordCfg, outbound, fanout, ch, fatal, log)

	pump := pipeline.NewSharePump(*nodeName, outbound, ch, log)
	go pump.Run(ctx)

	srv := controller.New(coord, fanout, log)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.ControllerPort[*nodeName])
	if err := srv.Listen(addr); err != nil {
		log.Error("listen failed: %v", err)
		return 1
	}

	notifDispatcher := buildNotificationDispatcher(coord, fanout)
	consumeErrCh := make(chan error, 1)
	go func() {
		consumeErrCh <- ch.Consume(ctx, func(cctx context.Context, method string, params json.RawMessage) error {
			return notifDispatcher.DispatchNotification(cctx, method, params)
		})
	}()

	if err := coord.Start(ctx); err != nil {
		log.Tagged("BrokerTransientError", "%v", err)
		fatal()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	received := false

	for {
		select {
		case sig := <-sigCh:
			if received {
				log.Info("second signal %v ignored, shutdown already in progress", sig)
				continue
			}
			received = true
			log.Info("received signal %v, shutting down", sig)
			cancel()
		case <-coord.Done():
			log.Info("simulation ended, shutting down")
			cancel()
		case <-ctx.Done():
			srv.Stop()
			if err := <-consumeErrCh; err != nil {
				log.Debug("broker consume loop ended: %v", err)
			}
			if exitCode != 0 {
				return exitCode
			}
			if coord.Ended() {
				return 0
			}
			return 1
		}
	}
}

// buildNotificationDispatcher routes broker notifications to either the
// coordinator (controller_finished) or the local store fanout
// (store_events), which every node — including the publisher itself —
// receives via the fanout exchange's echo.
func buildNotificationDispatcher(coord *coordinator.Coordinator, fanout *pipeline.Fanout) *rpc.Dispatcher {
	d := rpc.NewDispatcher()

	d.Handle("store_events", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var notif pipeline.StoreEventsNotification
		if err := json.Unmarshal(params, &notif); err != nil {
			return nil, err
		}
		fanout.BroadcastEvents(notif.Events)
		return nil, nil
	})

	d.Handle("controller_finished", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var notif struct {
			NodeName string `json:"nodename"`
		}
		if err := json.Unmarshal(params, &notif); err != nil {
			return nil, err
		}
		return nil, coord.OnControllerFinished(ctx, notif.NodeName)
	})

	return d
}
