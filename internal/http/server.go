package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang/glog"

	"github.com/souravb-dev/GenAIOps-sub001/internal/lifecycle"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

const (
	HeaderActorID          = "X-Actor-ID"
	HeaderActorPermissions = "X-Actor-Permissions"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ActionService is the engine surface the REST API exposes.
// *lifecycle.Controller implements it.
type ActionService interface {
	CreateAction(ctx context.Context, spec models.ActionSpec, actor models.Actor) (*models.Action, error)
	GetAction(ctx context.Context, id string) (*models.Action, error)
	ListActions(ctx context.Context, filter models.Filter) ([]*models.Action, error)
	ApproveAction(ctx context.Context, id string, actor models.Actor, comment string) (*models.Action, error)
	QueueAction(ctx context.Context, id string, actor models.Actor) (*models.Action, error)
	ExecuteAction(ctx context.Context, id string, actor models.Actor, dryRun bool) (*models.Action, error)
	CancelAction(ctx context.Context, id string, actor models.Actor) (*models.Action, error)
	RollbackAction(ctx context.Context, id string, actor models.Actor) (*models.Action, error)
	GetAuditTrail(ctx context.Context, id string) ([]*models.AuditLogEntry, error)
}

type Server struct {
	service ActionService

	mu         sync.Mutex
	stopped    bool
	httpServer *http.Server // Store server instance for graceful shutdown
}

func NewServer(service ActionService) *Server {
	return &Server{
		service: service,
	}
}

// Routes builds the API router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderActorID, HeaderActorPermissions},
		MaxAge:         300,
	}))

	r.Route("/api/actions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/audit", s.handleAudit)
			r.Post("/approve", s.handleApprove)
			r.Post("/queue", s.handleQueue)
			r.Post("/execute", s.handleExecute)
			r.Post("/cancel", s.handleCancel)
			r.Post("/rollback", s.handleRollback)
		})
	})

	return r
}

// Start serves the API on addr until Stop. It returns http.ErrServerClosed
// if Stop was called first.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	// Store server instance for graceful shutdown
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv
	s.mu.Unlock()

	glog.Infof("HTTP Server listening on: %s", addr)
	return srv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server with a timeout.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	glog.Infof("Stopping HTTP server...")

	// 5 second timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	glog.Infof("HTTP server stopped successfully")
	return nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec models.ActionSpec
	if err := decodeBody(r, &spec, false); err != nil {
		writeError(w, err)
		return
	}

	action, err := s.service.CreateAction(r.Context(), spec, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	glog.Infof("Created action %s (%s) status=%s", action.ID, action.ActionType, action.Status)
	writeJSON(w, http.StatusCreated, action)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}

	actions, err := s.service.ListActions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if actions == nil {
		actions = []*models.Action{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"actions": actions,
		"count":   len(actions),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	action, err := s.service.GetAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trail, err := s.service.GetAuditTrail(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action_id": id,
		"entries":   trail,
	})
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type executeRequest struct {
	DryRun bool `json:"dry_run"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	s.respond(w, r, http.StatusOK, func(ctx context.Context, id string, actor models.Actor) (*models.Action, error) {
		return s.service.ApproveAction(ctx, id, actor, req.Comment)
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.service.QueueAction)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	if v := r.URL.Query().Get("dry_run"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, &models.ValidationError{Field: "dry_run", Reason: "must be a boolean", Err: err})
			return
		}
		req.DryRun = dryRun
	}

	s.respond(w, r, http.StatusAccepted, func(ctx context.Context, id string, actor models.Actor) (*models.Action, error) {
		return s.service.ExecuteAction(ctx, id, actor, req.DryRun)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.service.CancelAction)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusAccepted, s.service.RollbackAction)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int,
	op func(ctx context.Context, id string, actor models.Actor) (*models.Action, error)) {
	id := chi.URLParam(r, "id")
	actor := actorFrom(r)

	glog.V(1).Infof("Received request: %s %s (actor=%s)", r.Method, r.URL.Path, actor.ID)

	action, err := op(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, action)
}

func actorFrom(r *http.Request) models.Actor {
	return models.Actor{
		ID:          r.Header.Get(HeaderActorID),
		Permissions: models.ParsePermissions(r.Header.Get(HeaderActorPermissions)),
	}
}

func filterFrom(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	filter := models.Filter{
		Status:      models.ActionStatus(q.Get("status")),
		ActionType:  models.ActionType(q.Get("action_type")),
		Severity:    models.Severity(q.Get("severity")),
		Environment: q.Get("environment"),
		ServiceName: q.Get("service_name"),
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, &models.ValidationError{Field: p.name, Reason: "must be a non-negative integer"}
		}
		*p.dst = n
	}

	return filter, nil
}

// decodeBody reads a JSON body into dst. An empty body is accepted when
// optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	case errors.Is(err, io.EOF):
		return &models.ValidationError{Reason: "request body is required"}
	default:
		return &models.ValidationError{Reason: fmt.Sprintf("invalid JSON body: %v", err), Err: err}
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		validationErr   *models.ValidationError
		forbiddenErr    *models.ForbiddenError
		conflictErr     *models.ConflictError
		preconditionErr *models.PreconditionFailedError
		notSupportedErr *models.NotSupportedError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &notSupportedErr):
		return http.StatusBadRequest
	case errors.As(err, &forbiddenErr):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.As(err, &preconditionErr):
		return http.StatusPreconditionFailed
	case errors.Is(err, lifecycle.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		glog.Warningf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		glog.Errorf("Request failed: %v", err)
	}

	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": err.Error(),
	})
}
