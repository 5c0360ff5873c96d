package models

import "time"

type EventType string

const (
	EventCreated            EventType = "created"
	EventApproved           EventType = "approved"
	EventQueued             EventType = "queued"
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionTimedOut  EventType = "execution_timed_out"
	EventDryRunCompleted    EventType = "dry_run_completed"
	EventCancelled          EventType = "cancelled"
	EventRollbackStarted    EventType = "rollback_started"
	EventRolledBack         EventType = "rolled_back"
	EventRollbackFailed     EventType = "rollback_failed"
)

// AuditLogEntry is an immutable record of one status transition.
type AuditLogEntry struct {
	ID               string       `json:"id"`
	ActionID         string       `json:"action_id"`
	EventType        EventType    `json:"event_type"`
	EventDescription string       `json:"event_description"`
	Actor            string       `json:"actor"`
	FromStatus       ActionStatus `json:"from_status,omitempty"`
	ToStatus         ActionStatus `json:"to_status"`
	Timestamp        time.Time    `json:"timestamp"`
}
