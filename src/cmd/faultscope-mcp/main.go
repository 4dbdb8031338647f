// Package main provides the MCP server entry point for faultscope.
// The server speaks the Model Context Protocol over stdin/stdout and exposes
// the query_fault, fault_stats, search_logs and get_report tools.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"faultscope/src/app"
	"faultscope/src/config"
	"faultscope/src/logger"
	"faultscope/src/mcp"
)

func main() {
	configPath := flag.String("config", "", "config file (default ./faultscope.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; nothing else may write to it.
	log := logger.NewSilentLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	server := mcp.NewServer(a.Engine, a.Store, log)
	if err := server.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
