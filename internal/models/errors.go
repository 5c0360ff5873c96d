package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("action not found")

// ValidationError reports a malformed action spec or request. Err, when set,
// is the underlying cause (e.g. a *NotSupportedError for a refused dry run).
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError is returned when the stored status no longer matches the
// status a transition expected.
type ConflictError struct {
	ActionID string
	Expected []ActionStatus
	Actual   ActionStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("action %s is %s, expected one of %v", e.ActionID, e.Actual, e.Expected)
}

// PreconditionFailedError is returned for operations that are not possible
// from the action's current state, e.g. rollback without a rollback command.
type PreconditionFailedError struct {
	ActionID string
	Reason   string
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("precondition failed for action %s: %s", e.ActionID, e.Reason)
}

// ExecutionError wraps a command that exited non-zero or could not run.
type ExecutionError struct {
	ExitStatus int
	Stderr     string
	Err        error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution failed (exit %d): %v", e.ExitStatus, e.Err)
	}
	return fmt.Sprintf("execution failed (exit %d): %s", e.ExitStatus, e.Stderr)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError is returned when a command exceeds its wall-clock budget.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command exceeded timeout of %s", e.Timeout)
}

// NotSupportedError is returned when an executor cannot honour a request,
// such as a dry run for a type without a native plan mode.
type NotSupportedError struct {
	ActionType ActionType
	Operation  string
	// Reason narrows the refusal to the command, e.g. the subcommand.
	Reason string
}

func (e *NotSupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s is not supported for action type %s: %s", e.Operation, e.ActionType, e.Reason)
	}
	return fmt.Sprintf("%s is not supported for action type %s", e.Operation, e.ActionType)
}

// ForbiddenError is returned when the actor lacks the required permission.
type ForbiddenError struct {
	Actor      string
	Permission Permission
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %q lacks permission %q", e.Actor, e.Permission)
}
