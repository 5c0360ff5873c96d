package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/souravb-dev/GenAIOps-sub001/internal/config"
	"github.com/souravb-dev/GenAIOps-sub001/internal/orchestrator"
)

// shutdownTimeout bounds how long in-flight executions may keep running
// after a shutdown signal before they are killed.
const shutdownTimeout = 60 * time.Second

// main is the entry point for the Remediation Engine.
//
// The engine is responsible for:
//   - Accepting remediation actions over the REST API and scoring their risk
//   - Gating risky actions behind explicit approval
//   - Executing commands through the matching executor with timeouts
//   - Rolling back completed actions on request
//   - Publishing status transitions to NATS and accepting bus requests
//
// Lifecycle:
//  1. Load configuration from environment variables
//  2. Open the action store and build the controller
//  3. Start REST, gRPC health and /health + /metrics servers
//  4. Listen for shutdown signals (SIGINT, SIGTERM)
//  5. Wait for running executions, then close all connections
func main() {
	flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	glog.Infof("Remediation Engine starting...")

	// Load configuration from environment variables and .env file
	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("Failed to load configuration: %v", err)
	}

	glog.Infof("Configuration loaded successfully")
	glog.Infof("  HTTP Port: %s", cfg.HTTPPort)
	glog.Infof("  gRPC Port: %s", cfg.GRPCPort)
	glog.Infof("  Health Port: %s", cfg.HealthPort)
	glog.Infof("  Store Backend: %s", cfg.StoreBackend)
	glog.Infof("  Event Bus: %v (%s)", cfg.EnableEventBus, cfg.NatsURL)
	glog.Infof("  Risk Backend: %s", cfg.RiskBackend)
	glog.Infof("  Max Concurrent Actions: %d", cfg.MaxConcurrentActions)
	glog.Infof("  Action Timeout: %ds", cfg.ActionTimeout)

	// Cancelled on Ctrl+C, Docker stop, k8s termination
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.NewOrchestrator(cfg)

	if err := orch.Start(ctx); err != nil {
		glog.Errorf("Failed to start orchestrator: %v", err)
		shutdown(orch)
		glog.Flush()
		os.Exit(1)
	}

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("Orchestrator error: %v", err)
	}

	glog.Infof("Shutdown signal received, initiating graceful shutdown...")
	shutdown(orch)

	glog.Infof("Remediation Engine stopped successfully")
}

func shutdown(orch *orchestrator.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := orch.Stop(ctx); err != nil {
		glog.Errorf("Error during shutdown: %v", err)
	}
}
