package models

import "time"

type ActionType string

const (
	ActionTypeCLICommand   ActionType = "cli_command"
	ActionTypeInfraAsCode  ActionType = "infra_as_code"
	ActionTypeOrchestrator ActionType = "orchestrator"
	ActionTypeScript       ActionType = "script"
	ActionTypeAPICall      ActionType = "api_call"
)

// ActionTypes lists every supported action type in a stable order.
var ActionTypes = []ActionType{
	ActionTypeCLICommand,
	ActionTypeInfraAsCode,
	ActionTypeOrchestrator,
	ActionTypeScript,
	ActionTypeAPICall,
}

func (t ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ActionStatus string

const (
	StatusPending     ActionStatus = "pending"
	StatusApproved    ActionStatus = "approved"
	StatusQueued      ActionStatus = "queued"
	StatusInProgress  ActionStatus = "in_progress"
	StatusCompleted   ActionStatus = "completed"
	StatusFailed      ActionStatus = "failed"
	StatusCancelled   ActionStatus = "cancelled"
	StatusRollingBack ActionStatus = "rolling_back"
	StatusRolledBack  ActionStatus = "rolled_back"
)

type RiskLevel string

const (
	RiskLow           RiskLevel = "low"
	RiskMedium        RiskLevel = "medium"
	RiskHigh          RiskLevel = "high"
	RiskCritical      RiskLevel = "critical"
	RiskIndeterminate RiskLevel = "indeterminate"
)

// RiskAssessment is the verdict returned by the risk adapter. It is attached
// to an action once, before the action is first persisted.
type RiskAssessment struct {
	Level     RiskLevel `json:"level"`
	Rationale string    `json:"rationale"`
}

// Action is a single remediation operation and its lifecycle state.
type Action struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	IssueDetails string `json:"issue_details"`
	ResourceInfo string `json:"resource_info,omitempty"`

	ActionType      ActionType `json:"action_type"`
	ActionCommand   string     `json:"action_command"`
	RollbackCommand *string    `json:"rollback_command,omitempty"`

	Environment      string   `json:"environment"`
	ServiceName      string   `json:"service_name"`
	Severity         Severity `json:"severity"`
	RequiresApproval bool     `json:"requires_approval"`

	Status         ActionStatus    `json:"status"`
	RiskAssessment *RiskAssessment `json:"risk_assessment,omitempty"`

	// Execution metadata, overwritten on each attempt.
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	ExecutionOutput   *string        `json:"execution_output,omitempty"`
	ExecutionError    *string        `json:"execution_error,omitempty"`
	ExecutionDuration *time.Duration `json:"execution_duration,omitempty"`

	RollbackExecuted bool `json:"rollback_executed"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsApproval reports whether an explicit approve call is required.
// A missing, indeterminate or critical verdict forces the gate whatever the
// stored flag says.
func (a *Action) NeedsApproval() bool {
	if a.RequiresApproval || a.RiskAssessment == nil {
		return true
	}
	switch a.RiskAssessment.Level {
	case RiskIndeterminate, RiskCritical:
		return true
	}
	return false
}

// CanRollback reports whether the rollback manager may act on the action.
func (a *Action) CanRollback() bool {
	return a.Status == StatusCompleted && a.RollbackCommand != nil && *a.RollbackCommand != ""
}

// Clone returns a deep copy so callers never share pointers with a store.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	c := *a
	if a.RollbackCommand != nil {
		v := *a.RollbackCommand
		c.RollbackCommand = &v
	}
	if a.RiskAssessment != nil {
		v := *a.RiskAssessment
		c.RiskAssessment = &v
	}
	if a.StartedAt != nil {
		v := *a.StartedAt
		c.StartedAt = &v
	}
	if a.CompletedAt != nil {
		v := *a.CompletedAt
		c.CompletedAt = &v
	}
	if a.ExecutionOutput != nil {
		v := *a.ExecutionOutput
		c.ExecutionOutput = &v
	}
	if a.ExecutionError != nil {
		v := *a.ExecutionError
		c.ExecutionError = &v
	}
	if a.ExecutionDuration != nil {
		v := *a.ExecutionDuration
		c.ExecutionDuration = &v
	}
	return &c
}

// ActionSpec carries the creation-time fields supplied by a caller.
type ActionSpec struct {
	Title            string     `json:"title" validate:"required,max=255"`
	Description      string     `json:"description"`
	IssueDetails     string     `json:"issue_details"`
	ResourceInfo     string     `json:"resource_info"`
	ActionType       ActionType `json:"action_type" validate:"required,oneof=cli_command infra_as_code orchestrator script api_call"`
	ActionCommand    string     `json:"action_command" validate:"required"`
	RollbackCommand  *string    `json:"rollback_command,omitempty" validate:"omitempty,min=1"`
	Environment      string     `json:"environment" validate:"max=64"`
	ServiceName      string     `json:"service_name" validate:"max=128"`
	Severity         Severity   `json:"severity" validate:"required,oneof=low medium high critical"`
	RequiresApproval bool       `json:"requires_approval"`
}

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	Status      ActionStatus
	ActionType  ActionType
	Severity    Severity
	Environment string
	ServiceName string
	Limit       int
	Offset      int
}

func (f Filter) Matches(a *Action) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.ActionType != "" && a.ActionType != f.ActionType {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Environment != "" && a.Environment != f.Environment {
		return false
	}
	if f.ServiceName != "" && a.ServiceName != f.ServiceName {
		return false
	}
	return true
}

// Patch lists the execution fields a transition writes alongside the status.
// Nil pointers leave the stored value untouched.
type Patch struct {
	ResetExecution    bool
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ExecutionOutput   *string
	ExecutionError    *string
	ExecutionDuration *time.Duration
	RollbackExecuted  *bool
}

// Apply writes the patch onto a, which must be a private copy.
func (p Patch) Apply(a *Action) {
	if p.ResetExecution {
		a.StartedAt = nil
		a.CompletedAt = nil
		a.ExecutionOutput = nil
		a.ExecutionError = nil
		a.ExecutionDuration = nil
	}
	if p.StartedAt != nil {
		v := *p.StartedAt
		a.StartedAt = &v
	}
	if p.CompletedAt != nil {
		v := *p.CompletedAt
		a.CompletedAt = &v
	}
	if p.ExecutionOutput != nil {
		v := *p.ExecutionOutput
		a.ExecutionOutput = &v
	}
	if p.ExecutionError != nil {
		v := *p.ExecutionError
		a.ExecutionError = &v
	}
	if p.ExecutionDuration != nil {
		v := *p.ExecutionDuration
		a.ExecutionDuration = &v
	}
	if p.RollbackExecuted != nil {
		a.RollbackExecuted = *p.RollbackExecuted
	}
}
