package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/souravb-dev/GenAIOps-sub001/internal/config"
	"github.com/souravb-dev/GenAIOps-sub001/internal/eventbus"
	"github.com/souravb-dev/GenAIOps-sub001/internal/executor"
	grpcserver "github.com/souravb-dev/GenAIOps-sub001/internal/grpc"
	"github.com/souravb-dev/GenAIOps-sub001/internal/health"
	httpserver "github.com/souravb-dev/GenAIOps-sub001/internal/http"
	"github.com/souravb-dev/GenAIOps-sub001/internal/lifecycle"
	"github.com/souravb-dev/GenAIOps-sub001/internal/risk"
	"github.com/souravb-dev/GenAIOps-sub001/internal/store"
)

// healthInterval is how often the gRPC serving status is recomputed.
const healthInterval = 30 * time.Second

// Orchestrator manages the remediation engine's lifecycle and wires the
// action controller to its store, executors and transports.
//
// Lifecycle:
//  1. Start() - Opens the store, builds the controller, connects NATS and prepares HTTP, gRPC and health servers
//  2. Run() - Serves until the context is cancelled
//  3. Stop() - Waits for in-flight executions, then closes every connection
//
// The orchestrator implements graceful degradation:
//   - NATS failure: Status events are not published and bus requests are not received (REST API still works)
//   - Risk backend misconfigured: Verdicts are indeterminate, so every action needs explicit approval
//   - Store failure: Startup fails (the store is the source of truth)
type Orchestrator struct {
	config *config.Config

	// Core components
	store      store.Store
	controller *lifecycle.Controller

	// Event bus connections
	natsPublisher  *eventbus.Publisher  // NATS publisher for status events
	natsSubscriber *eventbus.Subscriber // NATS subscriber for action requests

	// Servers
	httpServer   *httpserver.Server
	healthServer *health.Server
	grpcHealth   *grpcserver.HealthServer
	grpcServer   *grpc.Server
	grpcListener net.Listener
}

// NewOrchestrator creates a new Orchestrator instance with the provided configuration.
// The orchestrator is not started until Start() is called.
func NewOrchestrator(cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		config: cfg,
	}
}

// Start initializes all service connections. It must be called before Run().
//
// Start connects to:
//   - Action store (required)
//   - NATS event bus (optional, controlled by ENABLE_EVENTBUS)
//   - HTTP, gRPC and health servers (required)
func (o *Orchestrator) Start(ctx context.Context) error {
	glog.Infof("Starting Remediation Orchestrator...")

	if err := o.openStore(ctx); err != nil {
		return fmt.Errorf("failed to open action store (required): %w", err)
	}

	o.initializeController()

	if o.config.EnableEventBus {
		o.connectNATS() // Optional - warnings logged on failure
	} else {
		glog.Infof("Event bus disabled")
	}

	o.httpServer = httpserver.NewServer(o.controller)
	o.healthServer = health.NewServer(o.controller)

	if err := o.initializeGRPCServer(); err != nil {
		return fmt.Errorf("failed to initialize gRPC server: %w", err)
	}

	glog.Infof("Remediation Orchestrator started successfully")
	return nil
}

func (o *Orchestrator) openStore(ctx context.Context) error {
	glog.Infof("Opening %s action store...", o.config.StoreBackend)

	s, err := store.Open(ctx, o.config.StoreOptions())
	if err != nil {
		return err
	}

	o.store = s
	glog.Infof("Action store ready")
	return nil
}

func (o *Orchestrator) initializeController() {
	runner := executor.NewProcessRunner(o.config.MaxOutputBytes)
	dispatcher := executor.NewDispatcher(o.config.ExecutorOptions(), runner)
	adapter := risk.NewAdapter(o.riskAssessor(), o.config.RiskTimeout)

	o.controller = lifecycle.NewController(o.store, dispatcher, adapter, o.config.LifecycleOptions())
	glog.Infof("Action controller initialized (max concurrent: %d)", o.config.MaxConcurrentActions)
}

func (o *Orchestrator) riskAssessor() risk.Assessor {
	switch o.config.RiskBackend {
	case config.RiskBackendOpenAI:
		glog.Infof("Risk assessment via OpenAI (model: %s)", o.config.OpenAIModel)
		return risk.NewOpenAIAssessor(o.config.OpenAIAPIKey, o.config.OpenAIBaseURL, o.config.OpenAIModel)
	case config.RiskBackendRules:
		glog.Infof("Risk assessment via built-in rules")
		return risk.NewRuleAssessor()
	default:
		glog.Warningf("Risk assessment disabled: every action will require approval")
		return nil
	}
}

// connectNATS wires the publisher as the controller's notifier and starts
// the request subscriber. Failure logs a warning and leaves the bus off.
func (o *Orchestrator) connectNATS() {
	glog.Infof("Connecting to NATS at: %s", o.config.NatsURL)

	publisher, err := eventbus.NewPublisher(o.config.NatsURL)
	if err != nil {
		glog.Warningf("Failed to create NATS publisher: %v", err)
		glog.Warningf("Status events will not be published")
		return
	}
	o.natsPublisher = publisher
	o.controller.SetNotifier(publisher)

	subscriber, err := eventbus.NewSubscriber(o.config.NatsURL, o.controller)
	if err != nil {
		glog.Warningf("Failed to create NATS subscriber: %v", err)
		return
	}
	if err := subscriber.Start(); err != nil {
		glog.Warningf("Failed to start NATS subscriber: %v", err)
		subscriber.Close()
		return
	}
	o.natsSubscriber = subscriber
	glog.Infof("NATS subscriber started - listening for action requests")
}

func (o *Orchestrator) initializeGRPCServer() error {
	glog.Infof("Initializing gRPC server on port: %s", o.config.GRPCPort)

	listener, err := net.Listen("tcp", ":"+o.config.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", o.config.GRPCPort, err)
	}
	o.grpcListener = listener

	o.grpcServer = grpc.NewServer()
	o.grpcHealth = grpcserver.NewHealthServer(o.controller)
	o.grpcHealth.Register(o.grpcServer)

	glog.Infof("gRPC server initialized on port %s", o.config.GRPCPort)
	return nil
}

// Run starts all servers and blocks until ctx is cancelled or a server fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	glog.Infof("Starting servers...")

	g, gctx := errgroup.WithContext(ctx)

	o.healthServer.StartHealthCheckServer(o.config.HealthPort)

	g.Go(func() error {
		addr := ":" + o.config.HTTPPort
		if err := o.httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		glog.Infof("gRPC server listening on port %s", o.config.GRPCPort)
		if err := o.grpcServer.Serve(o.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		o.grpcHealth.Watch(gctx, healthInterval)
		return nil
	})

	// Stop accepting requests once the context ends so the goroutines above return.
	g.Go(func() error {
		<-gctx.Done()
		glog.Infof("Shutdown signal received")
		o.grpcHealth.Shutdown()
		if err := o.httpServer.Stop(); err != nil {
			glog.Errorf("Error stopping HTTP server: %v", err)
		}
		o.grpcServer.GracefulStop()
		return nil
	})

	glog.Infof("Remediation engine ready")

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Stop waits for in-flight executions, bounded by ctx, then closes all
// connections. Call it after Run returns.
func (o *Orchestrator) Stop(ctx context.Context) error {
	glog.Infof("Stopping Orchestrator...")

	var errs []error

	if o.controller != nil {
		if err := o.controller.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("controller shutdown: %w", err))
		}
	}

	// Run stops the gRPC server itself; this covers a Start without Run.
	if o.grpcServer != nil {
		o.grpcServer.Stop()
	}
	if o.grpcListener != nil {
		_ = o.grpcListener.Close()
	}

	if o.healthServer != nil {
		if err := o.healthServer.Stop(ctx); err != nil {
			glog.Errorf("Error stopping health server: %v", err)
		}
	}

	// Close NATS subscriber
	if o.natsSubscriber != nil {
		o.natsSubscriber.Close()
	}

	// Close NATS publisher
	if o.natsPublisher != nil {
		o.natsPublisher.Close()
	}

	if o.store != nil {
		if err := o.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	glog.Infof("Orchestrator stopped successfully")
	return nil
}
