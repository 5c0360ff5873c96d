package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/souravb-dev/GenAIOps-sub001/internal/executor"
	"github.com/souravb-dev/GenAIOps-sub001/internal/metrics"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

var executable = []models.ActionStatus{models.StatusApproved, models.StatusQueued}

// ExecuteAction moves an approved or queued action to in_progress and runs
// its command in the background. It returns the in_progress action at once;
// the outcome is read back with GetAction.
//
// Only the caller whose transition into in_progress commits runs anything.
// A dry run ends back in approved and never reaches completed or failed.
func (c *Controller) ExecuteAction(ctx context.Context, id string, actor models.Actor, dryRun bool) (*models.Action, error) {
	if err := authorize(actor, models.PermissionExecute); err != nil {
		return nil, err
	}

	action, err := c.current(ctx, id, executable...)
	if err != nil {
		return nil, err
	}
	if err := c.dispatcher.Validate(action.ActionType, action.ActionCommand, dryRun); err != nil {
		var notSupported *models.NotSupportedError
		if errors.As(err, &notSupported) {
			return nil, &models.ValidationError{Field: "dry_run", Reason: notSupported.Error(), Err: err}
		}
		return nil, err
	}

	if err := c.startWork(); err != nil {
		return nil, err
	}

	description := "execution started " + describeActor(actor.ID, "")
	started := time.Now().UTC()
	patch := models.Patch{ResetExecution: true, StartedAt: &started}
	if dryRun {
		// A dry run only leaves output and error behind.
		description = "dry run started " + describeActor(actor.ID, "")
		patch.StartedAt = nil
	}
	running, err := c.transition(ctx, id, action.Status, models.StatusInProgress, models.EventExecutionStarted,
		description, actor.ID, patch)
	if err != nil {
		c.wg.Done()
		return nil, widen(err, executable...)
	}

	go c.runExecution(running.Clone(), actor.ID, dryRun)

	return running, nil
}

func (c *Controller) runExecution(action *models.Action, actor string, dryRun bool) {
	defer c.wg.Done()

	mode := metrics.ModeExecute
	if dryRun {
		mode = metrics.ModeDryRun
	}

	start := time.Now()
	res, err := c.run(action.ActionType, action.ActionCommand, dryRun)
	elapsed := time.Since(start)
	if res != nil && res.Duration > 0 {
		elapsed = res.Duration
	}

	o := classify(res, err)
	metrics.RecordExecution(action.ActionType, mode, o.metric, elapsed)

	var patch models.Patch
	if o.output != "" {
		patch.ExecutionOutput = &o.output
	}
	if o.errText != "" {
		patch.ExecutionError = &o.errText
	}

	if dryRun {
		glog.Infof("Dry run of action %s finished: %s", action.ID, o.summary)
		c.finalize(action.ID, models.StatusInProgress, models.StatusApproved, models.EventDryRunCompleted,
			"dry run "+o.summary, actor, patch)
		return
	}

	completed := time.Now().UTC()
	patch.CompletedAt = &completed
	patch.ExecutionDuration = &elapsed

	switch o.metric {
	case metrics.OutcomeSucceeded:
		glog.Infof("Action %s completed in %s", action.ID, elapsed)
		c.finalize(action.ID, models.StatusInProgress, models.StatusCompleted, models.EventExecutionCompleted,
			"execution "+o.summary, actor, patch)
	case metrics.OutcomeTimedOut:
		glog.Errorf("Action %s timed out: %s", action.ID, o.errText)
		c.finalize(action.ID, models.StatusInProgress, models.StatusFailed, models.EventExecutionTimedOut,
			"execution "+o.summary, actor, patch)
	default:
		glog.Errorf("Action %s failed: %s", action.ID, o.errText)
		c.finalize(action.ID, models.StatusInProgress, models.StatusFailed, models.EventExecutionFailed,
			"execution "+o.summary, actor, patch)
	}
}

// run executes one command while holding a worker slot.
func (c *Controller) run(t models.ActionType, command string, dryRun bool) (*executor.Result, error) {
	if err := c.slots.Acquire(c.runCtx, 1); err != nil {
		return nil, &models.ExecutionError{ExitStatus: -1, Err: fmt.Errorf("no worker available: %w", err)}
	}
	defer c.slots.Release(1)

	metrics.ExecutionStarted()
	defer metrics.ExecutionFinished()

	return c.dispatcher.Run(c.runCtx, t, command, dryRun)
}

// outcome is the classified result of one executor run.
type outcome struct {
	metric  string
	summary string
	output  string
	errText string
}

func classify(res *executor.Result, err error) outcome {
	if res == nil {
		res = &executor.Result{ExitStatus: -1}
		if err == nil {
			err = errors.New("executor returned no result")
		}
	}
	o := outcome{output: res.Stdout}

	var timeoutErr *models.TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		o.metric = metrics.OutcomeTimedOut
		o.errText = timeoutErr.Error()
		if strings.TrimSpace(res.Stderr) != "" {
			o.errText += ": " + strings.TrimSpace(res.Stderr)
		}
		o.summary = fmt.Sprintf("timed out after %s", timeoutErr.Timeout)
	case err != nil:
		o.metric = metrics.OutcomeFailed
		o.errText = err.Error()
		o.summary = "failed: " + err.Error()
	case res.ExitStatus != 0:
		o.metric = metrics.OutcomeFailed
		o.errText = strings.TrimSpace(res.Stderr)
		if o.errText == "" {
			o.errText = fmt.Sprintf("exit status %d", res.ExitStatus)
		}
		o.summary = fmt.Sprintf("failed with exit status %d", res.ExitStatus)
	default:
		o.metric = metrics.OutcomeSucceeded
		o.summary = "succeeded"
		switch {
		case res.Stderr == "":
		case o.output == "":
			o.output = res.Stderr
		default:
			o.output = strings.TrimRight(o.output, "\n") + "\n" + res.Stderr
		}
	}
	if res.Truncated {
		o.summary += " (output truncated)"
	}
	return o
}
