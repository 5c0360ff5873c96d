package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souravb-dev/GenAIOps-sub001/internal/audit"
	"github.com/souravb-dev/GenAIOps-sub001/internal/executor"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
	"github.com/souravb-dev/GenAIOps-sub001/internal/risk"
	"github.com/souravb-dev/GenAIOps-sub001/internal/store"
)

var (
	admin    = models.Actor{ID: "alice", Permissions: []models.Permission{"*"}}
	approver = models.Actor{ID: "bob", Permissions: []models.Permission{models.PermissionApprove}}
)

// stubRunner stands in for the process runner.
type stubRunner struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(ctx context.Context, argv []string) (*executor.Result, error)
}

func (r *stubRunner) Run(ctx context.Context, argv []string, timeout time.Duration) (*executor.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, argv)
	fn := r.fn
	r.mu.Unlock()

	if fn == nil {
		return &executor.Result{ExitStatus: 0, Stdout: "ok"}, nil
	}
	return fn(ctx, argv)
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *stubRunner) lastCall() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func exitWith(status int, stdout, stderr string) func(context.Context, []string) (*executor.Result, error) {
	return func(context.Context, []string) (*executor.Result, error) {
		return &executor.Result{ExitStatus: status, Stdout: stdout, Stderr: stderr}, nil
	}
}

type fixedRisk models.RiskLevel

func (f fixedRisk) Assess(ctx context.Context, action *models.Action) (*models.RiskAssessment, error) {
	return &models.RiskAssessment{Level: models.RiskLevel(f), Rationale: "fixed for test"}, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (n *recordingNotifier) ActionChanged(ctx context.Context, action *models.Action, entry *models.AuditLogEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, entry)
	return nil
}

type testEnv struct {
	ctrl     *Controller
	store    store.Store
	runner   *stubRunner
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, assessor risk.Assessor) *testEnv {
	t.Helper()

	opts := executor.DefaultOptions()
	opts.CLITool = "mytool"
	opts.DefaultTimeout = 5 * time.Second

	runner := &stubRunner{}
	s := store.NewMemoryStore()
	ctrl := NewController(s, executor.NewDispatcher(opts, runner), risk.NewAdapter(assessor, 100*time.Millisecond), Options{MaxConcurrent: 2})
	notifier := &recordingNotifier{}
	ctrl.SetNotifier(notifier)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctrl.Shutdown(ctx)
	})

	return &testEnv{ctrl: ctrl, store: s, runner: runner, notifier: notifier}
}

func cliSpec(requiresApproval bool) models.ActionSpec {
	return models.ActionSpec{
		Title:            "Restart X",
		IssueDetails:     "service X unresponsive",
		ActionType:       models.ActionTypeCLICommand,
		ActionCommand:    "mytool restart --id X",
		Environment:      "staging",
		ServiceName:      "x",
		Severity:         models.SeverityMedium,
		RequiresApproval: requiresApproval,
	}
}

func strPtr(s string) *string { return &s }

func (e *testEnv) waitForStatus(t *testing.T, id string, want models.ActionStatus) *models.Action {
	t.Helper()
	var last *models.Action
	require.Eventually(t, func() bool {
		a, err := e.ctrl.GetAction(context.Background(), id)
		if err != nil {
			return false
		}
		last = a
		return a.Status == want
	}, 5*time.Second, 5*time.Millisecond, "action never reached %s", want)
	return last
}

// verifyTrail checks the trail replays to the stored status and holds one
// entry per transition.
func (e *testEnv) verifyTrail(t *testing.T, id string, wantEvents ...models.EventType) []*models.AuditLogEntry {
	t.Helper()
	ctx := context.Background()

	action, err := e.ctrl.GetAction(ctx, id)
	require.NoError(t, err)
	trail, err := e.ctrl.GetAuditTrail(ctx, id)
	require.NoError(t, err)
	require.NoError(t, audit.Verify(action, trail))

	events := make([]models.EventType, len(trail))
	for i, entry := range trail {
		events[i] = entry.EventType
	}
	assert.Equal(t, wantEvents, events)
	return trail
}

func requireConflict(t *testing.T, err error, actual models.ActionStatus) {
	t.Helper()
	var conflictErr *models.ConflictError
	require.True(t, errors.As(err, &conflictErr), "expected ConflictError, got %v", err)
	assert.Equal(t, actual, conflictErr.Actual)
}

func TestExecuteRequiresApproval(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	action, err := env.ctrl.CreateAction(ctx, cliSpec(true), admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, action.Status)
	require.NotNil(t, action.RiskAssessment)
	assert.Equal(t, models.RiskLow, action.RiskAssessment.Level)
	assert.Equal(t, "alice", action.CreatedBy)

	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	requireConflict(t, err, models.StatusPending)
	assert.Equal(t, 0, env.runner.callCount())

	approved, err := env.ctrl.ApproveAction(ctx, action.ID, approver, "looks safe")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)

	running, err := env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, running.Status)
	assert.NotNil(t, running.StartedAt)

	done := env.waitForStatus(t, action.ID, models.StatusCompleted)
	require.NotNil(t, done.ExecutionOutput)
	assert.Equal(t, "ok", *done.ExecutionOutput)
	assert.Nil(t, done.ExecutionError)
	assert.NotNil(t, done.CompletedAt)
	assert.NotNil(t, done.ExecutionDuration)
	assert.Equal(t, []string{"mytool", "restart", "--id", "X"}, env.runner.lastCall())

	trail := env.verifyTrail(t, action.ID,
		models.EventCreated, models.EventApproved, models.EventExecutionStarted, models.EventExecutionCompleted)
	assert.Equal(t, "bob", trail[1].Actor)
	assert.Contains(t, trail[1].EventDescription, "looks safe")
}

func TestExecuteNonZeroExitFails(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	env.runner.fn = exitWith(1, "", "not found")
	ctx := context.Background()

	action, err := env.ctrl.CreateAction(ctx, cliSpec(true), admin)
	require.NoError(t, err)
	_, err = env.ctrl.ApproveAction(ctx, action.ID, admin, "")
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)

	failed := env.waitForStatus(t, action.ID, models.StatusFailed)
	require.NotNil(t, failed.ExecutionError)
	assert.Contains(t, *failed.ExecutionError, "not found")
	assert.NotNil(t, failed.CompletedAt)

	env.verifyTrail(t, action.ID,
		models.EventCreated, models.EventApproved, models.EventExecutionStarted, models.EventExecutionFailed)
}

func TestExecuteTimeoutIsTaggedInAudit(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	env.runner.fn = func(context.Context, []string) (*executor.Result, error) {
		return &executor.Result{ExitStatus: -1, TimedOut: true}, &models.TimeoutError{Timeout: time.Second}
	}
	ctx := context.Background()

	action, err := env.ctrl.CreateAction(ctx, cliSpec(true), admin)
	require.NoError(t, err)
	_, err = env.ctrl.ApproveAction(ctx, action.ID, admin, "")
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)

	failed := env.waitForStatus(t, action.ID, models.StatusFailed)
	require.NotNil(t, failed.ExecutionError)
	assert.Contains(t, *failed.ExecutionError, "timeout")

	env.verifyTrail(t, action.ID,
		models.EventCreated, models.EventApproved, models.EventExecutionStarted, models.EventExecutionTimedOut)
}

func TestCreateRejectsWrongToolBeforePersisting(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	spec := cliSpec(true)
	spec.ActionCommand = "othertool restart --id X"

	_, err := env.ctrl.CreateAction(ctx, spec, admin)
	var validationErr *models.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "action_command", validationErr.Field)

	actions, err := env.ctrl.ListActions(ctx, models.Filter{})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestCreateRejectsInvalidRollbackCommand(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))

	spec := cliSpec(true)
	spec.RollbackCommand = strPtr("rm -rf /")

	_, err := env.ctrl.CreateAction(context.Background(), spec, admin)
	var validationErr *models.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "rollback_command", validationErr.Field)
}

func TestRiskTimeoutForcesApproval(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	slow := assessorFunc(func(ctx context.Context, action *models.Action) (*models.RiskAssessment, error) {
		<-block
		return &models.RiskAssessment{Level: models.RiskLow}, nil
	})
	env := newTestEnv(t, slow)

	action, err := env.ctrl.CreateAction(context.Background(), cliSpec(false), admin)
	require.NoError(t, err)
	require.NotNil(t, action.RiskAssessment)
	assert.Equal(t, models.RiskIndeterminate, action.RiskAssessment.Level)
	assert.False(t, action.RequiresApproval, "stored flag is kept")
	assert.True(t, action.NeedsApproval())
	assert.Equal(t, models.StatusPending, action.Status)

	env.verifyTrail(t, action.ID, models.EventCreated)
}

func TestAutoApproveLowRisk(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))

	action, err := env.ctrl.CreateAction(context.Background(), cliSpec(false), admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, action.Status)

	trail := env.verifyTrail(t, action.ID, models.EventCreated, models.EventApproved)
	assert.Equal(t, models.SystemActor, trail[1].Actor)
}

func TestCriticalRiskForcesApproval(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskCritical))

	action, err := env.ctrl.CreateAction(context.Background(), cliSpec(false), admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, action.Status)
	assert.Equal(t, models.RiskCritical, action.RiskAssessment.Level)
}

func TestConcurrentExecuteRunsOnce(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	release := make(chan struct{})
	env.runner.fn = func(ctx context.Context, argv []string) (*executor.Result, error) {
		<-release
		return &executor.Result{Stdout: "done"}, nil
	}
	ctx := context.Background()

	action, err := env.ctrl.CreateAction(ctx, cliSpec(false), admin)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, action.Status)

	const callers = 2
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		errs      = make([]error, callers)
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		var conflictErr *models.ConflictError
		switch {
		case err == nil:
			successes++
		case errors.As(err, &conflictErr):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	close(release)
	env.waitForStatus(t, action.ID, models.StatusCompleted)
	assert.Equal(t, 1, env.runner.callCount())

	env.verifyTrail(t, action.ID,
		models.EventCreated, models.EventApproved, models.EventExecutionStarted, models.EventExecutionCompleted)
}

func TestDryRunReturnsToApproved(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	env.runner.fn = exitWith(0, "deployment.apps/api restarted (server dry run)", "")
	ctx := context.Background()

	spec := cliSpec(false)
	spec.ActionType = models.ActionTypeOrchestrator
	spec.ActionCommand = "kubectl rollout restart deployment/api"

	action, err := env.ctrl.CreateAction(ctx, spec, admin)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, action.Status)

	running, err := env.ctrl.ExecuteAction(ctx, action.ID, admin, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, running.Status)

	require.Eventually(t, func() bool {
		trail, err := env.ctrl.GetAuditTrail(ctx, action.ID)
		return err == nil && trail[len(trail)-1].EventType == models.EventDryRunCompleted
	}, 5*time.Second, 5*time.Millisecond)

	after, err := env.ctrl.GetAction(ctx, action.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, after.Status)
	assert.Nil(t, after.StartedAt)
	assert.Nil(t, after.CompletedAt)
	assert.Nil(t, after.ExecutionDuration)
	require.NotNil(t, after.ExecutionOutput)
	assert.Contains(t, *after.ExecutionOutput, "dry run")
	assert.Equal(t, []string{"kubectl", "rollout", "restart", "deployment/api", "--dry-run=server"}, env.runner.lastCall())

	env.verifyTrail(t, action.ID,
		models.EventCreated, models.EventApproved, models.EventExecutionStarted, models.EventDryRunCompleted)
}

func TestFailedDryRunStillReturnsToApproved(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	env.runner.fn = exitWith(1, "", "plan failed")
	ctx := context.Background()

	spec := cliSpec(false)
	spec.ActionType = models.ActionTypeInfraAsCode
	spec.ActionCommand = "terraform apply -auto-approve"

	action, err := env.ctrl.CreateAction(ctx, spec, admin)
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		trail, _ := env.ctrl.GetAuditTrail(ctx, action.ID)
		return len(trail) == 4
	}, 5*time.Second, 5*time.Millisecond)

	after, err := env.ctrl.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, after.Status)
	require.NotNil(t, after.ExecutionError)
	assert.Contains(t, *after.ExecutionError, "plan failed")
	assert.Equal(t, []string{"terraform", "plan"}, env.runner.lastCall())
}

func TestDryRunUnsupportedIsValidationError(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	spec := cliSpec(false)
	spec.ActionType = models.ActionTypeScript
	spec.ActionCommand = "systemctl restart x"

	action, err := env.ctrl.CreateAction(ctx, spec, admin)
	require.NoError(t, err)

	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, true)
	var validationErr *models.ValidationError
	require.True(t, errors.As(err, &validationErr))
	var notSupported *models.NotSupportedError
	assert.True(t, errors.As(err, &notSupported))

	after, err := env.ctrl.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, after.Status)
	assert.Equal(t, 0, env.runner.callCount())
	env.verifyTrail(t, action.ID, models.EventCreated, models.EventApproved)
}

func TestDryRunRefusedForStateChangingCommand(t *testing.T) {
	tests := []struct {
		actionType models.ActionType
		command    string
	}{
		{models.ActionTypeInfraAsCode, "terraform import aws_instance.x i-123"},
		{models.ActionTypeOrchestrator, "kubectl exec api-0 -- rm -rf /data"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			env := newTestEnv(t, fixedRisk(models.RiskLow))
			ctx := context.Background()

			spec := cliSpec(false)
			spec.ActionType = tt.actionType
			spec.ActionCommand = tt.command

			action, err := env.ctrl.CreateAction(ctx, spec, admin)
			require.NoError(t, err)
			require.Equal(t, models.StatusApproved, action.Status)

			_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, true)
			var validationErr *models.ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			var notSupported *models.NotSupportedError
			assert.True(t, errors.As(err, &notSupported))

			after, err := env.ctrl.GetAction(ctx, action.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusApproved, after.Status)
			assert.Equal(t, 0, env.runner.callCount())
			env.verifyTrail(t, action.ID, models.EventCreated, models.EventApproved)
		})
	}
}

func TestDryRunChecksStatusFirst(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	spec := cliSpec(true)
	spec.ActionType = models.ActionTypeScript
	spec.ActionCommand = "systemctl restart x"

	action, err := env.ctrl.CreateAction(ctx, spec, admin)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, action.Status)

	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, true)
	requireConflict(t, err, models.StatusPending)
	assert.Equal(t, 0, env.runner.callCount())
}

func TestQueueThenExecute(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	action, err := env.ctrl.CreateAction(ctx, cliSpec(false), admin)
	require.NoError(t, err)

	queued, err := env.ctrl.QueueAction(ctx, action.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, queued.Status)

	_, err = env.ctrl.QueueAction(ctx, action.ID, admin)
	requireConflict(t, err, models.StatusQueued)

	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)
	env.waitForStatus(t, action.ID, models.StatusCompleted)

	env.verifyTrail(t, action.ID,
		models.EventCreated, models.EventApproved, models.EventQueued, models.EventExecutionStarted, models.EventExecutionCompleted)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	pending, err := env.ctrl.CreateAction(ctx, cliSpec(true), admin)
	require.NoError(t, err)

	cancelled, err := env.ctrl.CancelAction(ctx, pending.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = env.ctrl.CancelAction(ctx, pending.ID, admin)
	requireConflict(t, err, models.StatusCancelled)

	_, err = env.ctrl.ApproveAction(ctx, pending.ID, admin, "")
	requireConflict(t, err, models.StatusCancelled)

	env.verifyTrail(t, pending.ID, models.EventCreated, models.EventCancelled)
}

func TestCancelInProgressIsConflict(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	release := make(chan struct{})
	env.runner.fn = func(ctx context.Context, argv []string) (*executor.Result, error) {
		<-release
		return &executor.Result{}, nil
	}
	ctx := context.Background()

	action, err := env.ctrl.CreateAction(ctx, cliSpec(false), admin)
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)

	_, err = env.ctrl.CancelAction(ctx, action.ID, admin)
	requireConflict(t, err, models.StatusInProgress)

	close(release)
	env.waitForStatus(t, action.ID, models.StatusCompleted)
}

func TestRollbackPreconditions(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	spec := cliSpec(true)
	spec.RollbackCommand = strPtr("mytool start --id X")
	pending, err := env.ctrl.CreateAction(ctx, spec, admin)
	require.NoError(t, err)

	_, err = env.ctrl.RollbackAction(ctx, pending.ID, admin)
	var precondition *models.PreconditionFailedError
	require.True(t, errors.As(err, &precondition))

	noRollback, err := env.ctrl.CreateAction(ctx, cliSpec(false), admin)
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, noRollback.ID, admin, false)
	require.NoError(t, err)
	env.waitForStatus(t, noRollback.ID, models.StatusCompleted)

	_, err = env.ctrl.RollbackAction(ctx, noRollback.ID, admin)
	require.True(t, errors.As(err, &precondition))
	assert.Contains(t, precondition.Reason, "no rollback command")

	_, err = env.ctrl.RollbackAction(ctx, "missing", admin)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRollbackSuccess(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	spec := cliSpec(false)
	spec.RollbackCommand = strPtr("mytool start --id X")
	action, err := env.ctrl.CreateAction(ctx, spec, admin)
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)
	env.waitForStatus(t, action.ID, models.StatusCompleted)

	rolling, err := env.ctrl.RollbackAction(ctx, action.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRollingBack, rolling.Status)

	rolled := env.waitForStatus(t, action.ID, models.StatusRolledBack)
	assert.True(t, rolled.RollbackExecuted)
	assert.Equal(t, []string{"mytool", "start", "--id", "X"}, env.runner.lastCall())

	_, err = env.ctrl.RollbackAction(ctx, action.ID, admin)
	var precondition *models.PreconditionFailedError
	assert.True(t, errors.As(err, &precondition))

	env.verifyTrail(t, action.ID,
		models.EventCreated, models.EventApproved, models.EventExecutionStarted, models.EventExecutionCompleted,
		models.EventRollbackStarted, models.EventRolledBack)
}

func TestRollbackFailureKeepsCompleted(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()
	env.runner.fn = func(ctx context.Context, argv []string) (*executor.Result, error) {
		if argv[1] == "start" {
			return &executor.Result{ExitStatus: 2, Stderr: "instance locked"}, nil
		}
		return &executor.Result{Stdout: "ok"}, nil
	}

	spec := cliSpec(false)
	spec.RollbackCommand = strPtr("mytool start --id X")
	action, err := env.ctrl.CreateAction(ctx, spec, admin)
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)
	env.waitForStatus(t, action.ID, models.StatusCompleted)

	_, err = env.ctrl.RollbackAction(ctx, action.ID, admin)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		trail, _ := env.ctrl.GetAuditTrail(ctx, action.ID)
		return len(trail) == 6
	}, 5*time.Second, 5*time.Millisecond)

	after, err := env.ctrl.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, after.Status)
	assert.False(t, after.RollbackExecuted)

	trail := env.verifyTrail(t, action.ID,
		models.EventCreated, models.EventApproved, models.EventExecutionStarted, models.EventExecutionCompleted,
		models.EventRollbackStarted, models.EventRollbackFailed)
	assert.Contains(t, trail[5].EventDescription, "instance locked")
}

func TestConcurrentRollbackRunsOnce(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	spec := cliSpec(false)
	spec.RollbackCommand = strPtr("mytool start --id X")
	action, err := env.ctrl.CreateAction(ctx, spec, admin)
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)
	env.waitForStatus(t, action.ID, models.StatusCompleted)

	release := make(chan struct{})
	env.runner.mu.Lock()
	env.runner.fn = func(ctx context.Context, argv []string) (*executor.Result, error) {
		<-release
		return &executor.Result{}, nil
	}
	env.runner.mu.Unlock()

	_, err = env.ctrl.RollbackAction(ctx, action.ID, admin)
	require.NoError(t, err)
	_, err = env.ctrl.RollbackAction(ctx, action.ID, admin)
	var precondition *models.PreconditionFailedError
	assert.True(t, errors.As(err, &precondition), "second rollback must not run")

	close(release)
	env.waitForStatus(t, action.ID, models.StatusRolledBack)
	assert.Equal(t, 2, env.runner.callCount(), "one execution and one rollback")
}

func TestPermissionsAreEnforced(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()
	viewer := models.Actor{ID: "eve"}

	_, err := env.ctrl.CreateAction(ctx, cliSpec(true), viewer)
	var forbidden *models.ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, models.PermissionCreate, forbidden.Permission)

	action, err := env.ctrl.CreateAction(ctx, cliSpec(true), admin)
	require.NoError(t, err)

	_, err = env.ctrl.ApproveAction(ctx, action.ID, viewer, "")
	require.True(t, errors.As(err, &forbidden))

	_, err = env.ctrl.ExecuteAction(ctx, action.ID, approver, false)
	require.True(t, errors.As(err, &forbidden))

	env.verifyTrail(t, action.ID, models.EventCreated)
}

func TestNotifierSeesEveryTransition(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	ctx := context.Background()

	action, err := env.ctrl.CreateAction(ctx, cliSpec(false), admin)
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)
	env.waitForStatus(t, action.ID, models.StatusCompleted)

	require.Eventually(t, func() bool {
		env.notifier.mu.Lock()
		defer env.notifier.mu.Unlock()
		return len(env.notifier.entries) == 4
	}, 5*time.Second, 5*time.Millisecond)
}

func TestShutdownKillsRunsPastDeadline(t *testing.T) {
	env := newTestEnv(t, fixedRisk(models.RiskLow))
	env.runner.fn = func(ctx context.Context, argv []string) (*executor.Result, error) {
		<-ctx.Done()
		return &executor.Result{ExitStatus: -1}, &models.ExecutionError{ExitStatus: -1, Err: ctx.Err()}
	}
	ctx := context.Background()

	action, err := env.ctrl.CreateAction(ctx, cliSpec(false), admin)
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, action.ID, admin, false)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.ctrl.Shutdown(shutdownCtx), context.DeadlineExceeded)

	after, err := env.ctrl.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, after.Status)

	other, err := env.ctrl.CreateAction(ctx, cliSpec(false), admin)
	require.NoError(t, err)
	_, err = env.ctrl.ExecuteAction(ctx, other.ID, admin, false)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

type fakeDispatcher struct {
	Dispatcher
	failures map[models.ActionType]error
}

func (f fakeDispatcher) Check(ctx context.Context) map[models.ActionType]error {
	return f.failures
}

type failingPingStore struct {
	store.Store
}

func (failingPingStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	adapter := risk.NewAdapter(nil, time.Second)

	healthy := NewController(store.NewMemoryStore(), fakeDispatcher{}, adapter, Options{})
	h := healthy.HealthCheck(ctx)
	assert.Equal(t, HealthOK, h.Database)
	assert.Equal(t, HealthOK, h.CommandRunner)
	assert.True(t, h.Healthy())

	broken := NewController(failingPingStore{store.NewMemoryStore()}, fakeDispatcher{
		failures: map[models.ActionType]error{models.ActionTypeInfraAsCode: errors.New("terraform not found")},
	}, adapter, Options{})
	h = broken.HealthCheck(ctx)
	assert.Equal(t, HealthFail, h.Database)
	assert.Equal(t, HealthFail, h.CommandRunner)
	assert.Contains(t, h.Details[string(models.ActionTypeInfraAsCode)], "terraform")
	assert.False(t, h.Healthy())
}

type assessorFunc func(ctx context.Context, action *models.Action) (*models.RiskAssessment, error)

func (f assessorFunc) Assess(ctx context.Context, action *models.Action) (*models.RiskAssessment, error) {
	return f(ctx, action)
}
