// Package main provides the standalone query agent binary.
// The agent serves fault and statistics queries published on
// faultscope.queries and publishes the reports on faultscope.reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"faultscope/src/agent"
	"faultscope/src/app"
	"faultscope/src/broker"
	"faultscope/src/config"
	"faultscope/src/logger"
)

func main() {
	configPath := flag.String("config", "", "config file (default ./faultscope.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Verify we're in distributed mode
	if len(cfg.Broker.Brokers) == 0 {
		fmt.Fprintln(os.Stderr, "ERROR: broker.brokers is required for the query agent")
		fmt.Fprintln(os.Stderr, "Example: export FAULTSCOPE_BROKER_BROKERS=localhost:19092")
		os.Exit(1)
	}

	log := logger.New(cfg.Logger("query-agent"))
	log.Info("Starting faultscope query agent")
	log.Info("Redpanda brokers: %v", cfg.Broker.Brokers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	brk, err := broker.New(cfg.Broker.Brokers, log)
	if err != nil {
		log.Error("failed to create broker: %v", err)
		os.Exit(1)
	}
	defer brk.Close()

	if cfg.Metrics.Addr != "" {
		a.Metrics.Serve(ctx, cfg.Metrics.Addr, log)
	}

	log.Info("Query agent started with %d workers, waiting for requests...", cfg.Agent.Workers)
	if err := agent.NewAgent(brk, a.Engine, a.Store, cfg.Agent.Workers, log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("agent error: %v", err)
		os.Exit(1)
	}

	log.Info("Query agent stopped")
}
