package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/souravb-dev/GenAIOps-sub001/internal/metrics"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// maxDiagnostic caps the command output copied into a rollback audit entry.
const maxDiagnostic = 2048

// RollbackAction reverts a completed action by running its rollback command
// on the same executor. The action is rolling_back until the command ends:
// success lands in rolled_back, failure returns it to completed with
// rollback_executed still false and a rollback_failed entry. A failed
// rollback is not retried.
func (c *Controller) RollbackAction(ctx context.Context, id string, actor models.Actor) (*models.Action, error) {
	if err := authorize(actor, models.PermissionRollback); err != nil {
		return nil, err
	}

	action, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if action.Status != models.StatusCompleted {
		return nil, &models.PreconditionFailedError{
			ActionID: id,
			Reason:   fmt.Sprintf("rollback requires status %s, action is %s", models.StatusCompleted, action.Status),
		}
	}
	if !action.CanRollback() {
		return nil, &models.PreconditionFailedError{ActionID: id, Reason: "action has no rollback command"}
	}

	if err := c.startWork(); err != nil {
		return nil, err
	}

	rolling, err := c.transition(ctx, id, models.StatusCompleted, models.StatusRollingBack, models.EventRollbackStarted,
		"rollback started "+describeActor(actor.ID, ""), actor.ID, models.Patch{})
	if err != nil {
		c.wg.Done()
		return nil, err
	}

	go c.runRollback(rolling.Clone(), actor.ID)

	return rolling, nil
}

func (c *Controller) runRollback(action *models.Action, actor string) {
	defer c.wg.Done()

	start := time.Now()
	res, err := c.run(action.ActionType, *action.RollbackCommand, false)
	elapsed := time.Since(start)

	o := classify(res, err)
	metrics.RecordExecution(action.ActionType, metrics.ModeRollback, o.metric, elapsed)

	if o.metric == metrics.OutcomeSucceeded {
		glog.Infof("Action %s rolled back", action.ID)
		executed := true
		c.finalize(action.ID, models.StatusRollingBack, models.StatusRolledBack, models.EventRolledBack,
			"rollback "+o.summary+diagnostic("output", o.output), actor,
			models.Patch{RollbackExecuted: &executed})
		return
	}

	glog.Errorf("Rollback of action %s failed: %s", action.ID, o.errText)
	c.finalize(action.ID, models.StatusRollingBack, models.StatusCompleted, models.EventRollbackFailed,
		"rollback "+o.summary+diagnostic("error", o.errText), actor, models.Patch{})
}

func diagnostic(label, text string) string {
	if text == "" {
		return ""
	}
	if len(text) > maxDiagnostic {
		text = text[:maxDiagnostic] + "..."
	}
	return fmt.Sprintf("; %s: %s", label, text)
}

// IsRetryable reports whether err is a lost race the caller may resolve by
// re-reading the action and deciding again.
func IsRetryable(err error) bool {
	var conflictErr *models.ConflictError
	return errors.As(err, &conflictErr)
}
