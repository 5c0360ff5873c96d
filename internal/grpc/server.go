package grpc

import (
	"context"
	"time"

	"github.com/golang/glog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/souravb-dev/GenAIOps-sub001/internal/lifecycle"
)

// ServiceName is the grpc.health.v1 service name reported alongside the
// server-wide "" entry.
const ServiceName = "remediation.Engine"

type Checker interface {
	HealthCheck(ctx context.Context) lifecycle.Health
}

// HealthServer publishes the engine's HealthCheck through the standard
// gRPC health service.
type HealthServer struct {
	checker Checker
	health  *health.Server
}

func NewHealthServer(checker Checker) *HealthServer {
	hs := &HealthServer{
		checker: checker,
		health:  health.NewServer(),
	}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

func (s *HealthServer) Register(server *grpc.Server) {
	healthpb.RegisterHealthServer(server, s.health)
}

// Refresh runs one HealthCheck and updates the serving status.
func (s *HealthServer) Refresh(ctx context.Context) lifecycle.Health {
	h := s.checker.HealthCheck(ctx)
	if h.Healthy() {
		s.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		glog.Warningf("Health check failing: database=%s commandRunner=%s %v", h.Database, h.CommandRunner, h.Details)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

// Watch refreshes the status every interval until ctx is done.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		s.Refresh(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
}

func (s *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
