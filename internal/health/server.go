package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/souravb-dev/GenAIOps-sub001/internal/lifecycle"
)

var startTime time.Time

func init() {
	startTime = time.Now()
}

// checkTimeout bounds one health probe, including the tool version checks.
const checkTimeout = 15 * time.Second

type Checker interface {
	HealthCheck(ctx context.Context) lifecycle.Health
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	Database      string            `json:"database"`
	CommandRunner string            `json:"commandRunner"`
	Details       map[string]string `json:"details,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Timestamp     int64             `json:"timestamp"`
}

type Server struct {
	checker    Checker
	httpServer *http.Server
}

func NewServer(checker Checker) *Server {
	return &Server{checker: checker}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartHealthCheckServer serves /health and /metrics on port in the background.
func (s *Server) StartHealthCheckServer(port string) {
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	glog.Infof("Health check listening on : %s", port)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Errorf("Health server failed: %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	h := s.checker.HealthCheck(ctx)

	response := &HealthResponse{
		Status:        "healthy",
		Service:       "remediation-engine",
		Database:      h.Database,
		CommandRunner: h.CommandRunner,
		Details:       h.Details,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Timestamp:     time.Now().Unix(),
	}

	status := http.StatusOK
	if !h.Healthy() {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
