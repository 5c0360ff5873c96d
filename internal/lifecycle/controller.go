// Package lifecycle drives remediation actions through their state machine.
//
//	pending -> approved -> queued -> in_progress -> completed | failed
//	approved -> in_progress                 (execute without queueing)
//	in_progress -> approved                 (dry run finished)
//	completed -> rolling_back -> rolled_back | completed
//	pending | approved | queued -> cancelled
//
// Every transition goes through Store.UpdateStatus, which checks the stored
// status and appends the audit entry atomically. The controller keeps no
// action state of its own; each operation re-reads the store first.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"

	"github.com/souravb-dev/GenAIOps-sub001/internal/audit"
	"github.com/souravb-dev/GenAIOps-sub001/internal/executor"
	"github.com/souravb-dev/GenAIOps-sub001/internal/metrics"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
	"github.com/souravb-dev/GenAIOps-sub001/internal/store"
)

var ErrShuttingDown = errors.New("controller is shutting down")

// Dispatcher runs commands for an action type. *executor.Dispatcher
// implements it.
type Dispatcher interface {
	Validate(t models.ActionType, command string, dryRun bool) error
	Run(ctx context.Context, t models.ActionType, command string, dryRun bool) (*executor.Result, error)
	Check(ctx context.Context) map[models.ActionType]error
}

// RiskAssessor returns a verdict and never fails. *risk.Adapter implements it.
type RiskAssessor interface {
	Assess(ctx context.Context, action *models.Action) models.RiskAssessment
}

// Notifier is told about every committed transition.
type Notifier interface {
	ActionChanged(ctx context.Context, action *models.Action, entry *models.AuditLogEntry) error
}

type Options struct {
	// MaxConcurrent bounds executor runs across all actions.
	MaxConcurrent int64
	// FinalizeAttempts bounds retries of the write that ends a run.
	FinalizeAttempts int
	FinalizeBackoff  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrent:    4,
		FinalizeAttempts: 5,
		FinalizeBackoff:  200 * time.Millisecond,
	}
}

type Controller struct {
	store      store.Store
	dispatcher Dispatcher
	risk       RiskAssessor
	notifier   Notifier
	opts       Options

	slots *semaphore.Weighted

	// runCtx is cancelled when Shutdown gives up waiting, which kills any
	// command still running.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func NewController(s store.Store, d Dispatcher, r RiskAssessor, opts Options) *Controller {
	defaults := DefaultOptions()
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaults.MaxConcurrent
	}
	if opts.FinalizeAttempts <= 0 {
		opts.FinalizeAttempts = defaults.FinalizeAttempts
	}
	if opts.FinalizeBackoff <= 0 {
		opts.FinalizeBackoff = defaults.FinalizeBackoff
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:      s,
		dispatcher: d,
		risk:       r,
		opts:       opts,
		slots:      semaphore.NewWeighted(opts.MaxConcurrent),
		runCtx:     runCtx,
		cancelRun:  cancel,
	}
}

// SetNotifier registers n for transition events. Call before serving.
func (c *Controller) SetNotifier(n Notifier) {
	c.notifier = n
}

func (c *Controller) GetAction(ctx context.Context, id string) (*models.Action, error) {
	return c.store.Get(ctx, id)
}

func (c *Controller) ListActions(ctx context.Context, filter models.Filter) ([]*models.Action, error) {
	return c.store.List(ctx, filter)
}

func (c *Controller) GetAuditTrail(ctx context.Context, id string) ([]*models.AuditLogEntry, error) {
	return c.store.AuditTrail(ctx, id)
}

// Shutdown refuses new runs and waits for in-flight ones. If ctx expires
// first, running commands are killed and their actions recorded as failed.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancelRun()
		return nil
	case <-ctx.Done():
		glog.Warningf("Shutdown deadline reached, killing in-flight commands")
		c.cancelRun()
		<-done
		return ctx.Err()
	}
}

// startWork registers a background run, failing once Shutdown has begun.
func (c *Controller) startWork() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrShuttingDown
	}
	c.wg.Add(1)
	return nil
}

func authorize(actor models.Actor, p models.Permission) error {
	if !actor.Can(p) {
		return &models.ForbiddenError{Actor: actor.ID, Permission: p}
	}
	return nil
}

// current re-reads the action and checks its status is one of allowed.
func (c *Controller) current(ctx context.Context, id string, allowed ...models.ActionStatus) (*models.Action, error) {
	action, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, s := range allowed {
		if action.Status == s {
			return action, nil
		}
	}
	return nil, &models.ConflictError{ActionID: id, Expected: allowed, Actual: action.Status}
}

// transition moves id from -> to and appends one audit entry.
func (c *Controller) transition(ctx context.Context, id string, from, to models.ActionStatus, event models.EventType, description, actor string, patch models.Patch) (*models.Action, error) {
	entry := audit.NewEntry(id, event, description, actor, from, to)

	action, err := c.store.UpdateStatus(ctx, id, from, to, patch, entry)
	if err != nil {
		var conflictErr *models.ConflictError
		if errors.As(err, &conflictErr) {
			metrics.RecordConflict(string(event))
		}
		return nil, err
	}

	metrics.RecordTransition(from, to)
	glog.Infof("Action %s: %s -> %s (%s by %s)", id, from, to, event, entry.Actor)
	c.notify(ctx, action, entry)
	return action, nil
}

// widen reports a lost race against every status the operation accepts.
func widen(err error, allowed ...models.ActionStatus) error {
	var conflictErr *models.ConflictError
	if errors.As(err, &conflictErr) {
		conflictErr.Expected = allowed
	}
	return err
}

func (c *Controller) notify(ctx context.Context, action *models.Action, entry *models.AuditLogEntry) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.ActionChanged(ctx, action, entry); err != nil {
		glog.Warningf("Failed to publish status for action %s: %v", action.ID, err)
	}
}

// finalize writes the transition that ends a background run. It retries
// transient store errors so an action is not left in_progress or
// rolling_back; conflicts and missing actions are not retried.
func (c *Controller) finalize(id string, from, to models.ActionStatus, event models.EventType, description, actor string, patch models.Patch) {
	backoff := c.opts.FinalizeBackoff
	var err error
	for attempt := 1; attempt <= c.opts.FinalizeAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err = c.transition(ctx, id, from, to, event, description, actor, patch)
		cancel()
		if err == nil {
			return
		}

		var conflictErr *models.ConflictError
		if errors.As(err, &conflictErr) || errors.Is(err, models.ErrNotFound) {
			break
		}

		glog.Warningf("Failed to record %s for action %s (attempt %d/%d): %v", event, id, attempt, c.opts.FinalizeAttempts, err)
		time.Sleep(backoff)
		backoff *= 2
	}
	glog.Errorf("Giving up recording %s for action %s: %v", event, id, err)
}

// Health is the result of HealthCheck.
type Health struct {
	Database      string            `json:"database"`
	CommandRunner string            `json:"commandRunner"`
	Details       map[string]string `json:"details,omitempty"`
}

const (
	HealthOK   = "ok"
	HealthFail = "fail"
)

func (h Health) Healthy() bool {
	return h.Database == HealthOK && h.CommandRunner == HealthOK
}

// HealthCheck reports whether the store is reachable and whether every
// executor's tool is installed and runnable.
func (c *Controller) HealthCheck(ctx context.Context) Health {
	h := Health{Database: HealthOK, CommandRunner: HealthOK}

	if err := c.store.Ping(ctx); err != nil {
		h.Database = HealthFail
		h.detail("database", err)
	}

	for t, err := range c.dispatcher.Check(ctx) {
		h.CommandRunner = HealthFail
		h.detail(string(t), err)
	}

	return h
}

func (h *Health) detail(key string, err error) {
	if h.Details == nil {
		h.Details = make(map[string]string)
	}
	h.Details[key] = err.Error()
}

func describeActor(actor string, comment string) string {
	if comment == "" {
		return fmt.Sprintf("by %s", actor)
	}
	return fmt.Sprintf("by %s: %s", actor, comment)
}
