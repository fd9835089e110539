// Command eventlogger runs the broker-only peer that archives every
// published event to a gzip-compressed JSONL file and exits cleanly
// once the simulation reaches SIMEND on every node, per the
// specification's Event logger component (C7).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tenzoki/matrix/internal/broker"
	"github.com/tenzoki/matrix/internal/config"
	"github.com/tenzoki/matrix/internal/eventlogger"
	"github.com/tenzoki/matrix/internal/logx"
	"github.com/tenzoki/matrix/internal/matrixerr"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the cluster YAML configuration")
	outPath := flag.String("out", "events.jsonl.gz", "path to write the gzip-compressed event log")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: eventlogger -config matrix.yaml [-out events.jsonl.gz]")
		return matrixerr.ExitCode(&matrixerr.ConfigError{Field: "flags", Cause: fmt.Errorf("-config is required")})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("config error: %v", err)
		return matrixerr.ExitCode(err)
	}

	lg := logx.New("eventlogger", "", cfg.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerCfg := broker.Config{
		Host:           cfg.RabbitMQHost,
		Port:           cfg.RabbitMQPort,
		Username:       cfg.RabbitMQUsername,
		Password:       cfg.RabbitMQPassword,
		Exchange:       cfg.EventExchange,
		ConnectTimeout: config.BrokerConnectTimeout,
	}
	ch, err := broker.Dial(ctx, brokerCfg, "eventlogger")
	if err != nil {
		lg.Tagged("BrokerConnectError", "%v", err)
		return matrixerr.ExitCode(err)
	}
	defer ch.Close()

	evlog, err := eventlogger.New(ch, *outPath, cfg.SimNodes, cfg.NumRounds, lg)
	if err != nil {
		lg.Error("could not open event log: %v", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigCh
		lg.Info("received shutdown signal")
		cancel()
	}()

	if err := evlog.Run(ctx); err != nil && ctx.Err() == nil {
		lg.Tagged("BrokerTransientError", "%v", err)
		return matrixerr.ExitCode(&matrixerr.BrokerTransientError{Cause: err})
	}
	return 0
}
