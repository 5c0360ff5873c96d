package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/souravb-dev/GenAIOps-sub001/internal/audit"
	"github.com/souravb-dev/GenAIOps-sub001/internal/metrics"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// CreateAction validates spec, obtains a risk verdict and persists the
// action as pending. When neither the caller nor the verdict requires a
// human, the action is approved on the spot by the system actor.
//
// Nothing is persisted if validation fails.
func (c *Controller) CreateAction(ctx context.Context, spec models.ActionSpec, actor models.Actor) (*models.Action, error) {
	if err := authorize(actor, models.PermissionCreate); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := c.dispatcher.Validate(spec.ActionType, spec.ActionCommand, false); err != nil {
		return nil, err
	}
	if spec.RollbackCommand != nil {
		if err := c.dispatcher.Validate(spec.ActionType, *spec.RollbackCommand, false); err != nil {
			return nil, asRollbackError(err)
		}
	}

	now := time.Now().UTC()
	action := &models.Action{
		ID:               uuid.NewString(),
		Title:            spec.Title,
		Description:      spec.Description,
		IssueDetails:     spec.IssueDetails,
		ResourceInfo:     spec.ResourceInfo,
		ActionType:       spec.ActionType,
		ActionCommand:    spec.ActionCommand,
		Environment:      spec.Environment,
		ServiceName:      spec.ServiceName,
		Severity:         spec.Severity,
		RequiresApproval: spec.RequiresApproval,
		Status:           models.StatusPending,
		CreatedBy:        actor.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if spec.RollbackCommand != nil {
		rollback := *spec.RollbackCommand
		action.RollbackCommand = &rollback
	}

	// The verdict is attached before the first write and never changes.
	verdict := c.risk.Assess(ctx, action)
	action.RiskAssessment = &verdict

	entry := audit.NewEntry(action.ID, models.EventCreated,
		fmt.Sprintf("created %s action %q (risk %s)", action.ActionType, action.Title, verdict.Level),
		actor.ID, "", models.StatusPending)
	if err := c.store.Create(ctx, action, entry); err != nil {
		return nil, fmt.Errorf("failed to create action: %w", err)
	}

	metrics.RecordTransition("", models.StatusPending)
	glog.Infof("Action created: %s (ID: %s, type: %s, risk: %s)", action.Title, action.ID, action.ActionType, verdict.Level)
	c.notify(ctx, action, entry)

	if action.NeedsApproval() {
		return action, nil
	}

	approved, err := c.transition(ctx, action.ID, models.StatusPending, models.StatusApproved, models.EventApproved,
		fmt.Sprintf("auto-approved: approval not required and risk is %s", verdict.Level),
		models.SystemActor, models.Patch{})
	if err != nil {
		// Someone acted on the action first; hand back whatever it is now.
		glog.Warningf("Auto-approval of action %s failed: %v", action.ID, err)
		return c.store.Get(ctx, action.ID)
	}
	return approved, nil
}

func asRollbackError(err error) error {
	if v, ok := err.(*models.ValidationError); ok {
		return &models.ValidationError{Field: "rollback_command", Reason: v.Reason, Err: v.Err}
	}
	return err
}

// ApproveAction records a single approver's sign-off. Legal only from pending.
func (c *Controller) ApproveAction(ctx context.Context, id string, actor models.Actor, comment string) (*models.Action, error) {
	if err := authorize(actor, models.PermissionApprove); err != nil {
		return nil, err
	}
	if _, err := c.current(ctx, id, models.StatusPending); err != nil {
		return nil, err
	}

	return c.transition(ctx, id, models.StatusPending, models.StatusApproved, models.EventApproved,
		"approved "+describeActor(actor.ID, strings.TrimSpace(comment)), actor.ID, models.Patch{})
}

// QueueAction parks an approved action until it is executed.
func (c *Controller) QueueAction(ctx context.Context, id string, actor models.Actor) (*models.Action, error) {
	if err := authorize(actor, models.PermissionExecute); err != nil {
		return nil, err
	}
	if _, err := c.current(ctx, id, models.StatusApproved); err != nil {
		return nil, err
	}

	return c.transition(ctx, id, models.StatusApproved, models.StatusQueued, models.EventQueued,
		"queued "+describeActor(actor.ID, ""), actor.ID, models.Patch{})
}

var cancellable = []models.ActionStatus{models.StatusPending, models.StatusApproved, models.StatusQueued}

// CancelAction stops an action that has not started running. It never
// signals a running command.
func (c *Controller) CancelAction(ctx context.Context, id string, actor models.Actor) (*models.Action, error) {
	if err := authorize(actor, models.PermissionCancel); err != nil {
		return nil, err
	}
	action, err := c.current(ctx, id, cancellable...)
	if err != nil {
		return nil, err
	}

	updated, err := c.transition(ctx, id, action.Status, models.StatusCancelled, models.EventCancelled,
		"cancelled "+describeActor(actor.ID, ""), actor.ID, models.Patch{})
	if err != nil {
		return nil, widen(err, cancellable...)
	}
	return updated, nil
}
