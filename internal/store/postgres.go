package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souravb-dev/GenAIOps-sub001/internal/audit"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS remediation_actions (
		id                    TEXT PRIMARY KEY,
		title                 TEXT NOT NULL,
		description           TEXT NOT NULL DEFAULT '',
		issue_details         TEXT NOT NULL DEFAULT '',
		resource_info         TEXT NOT NULL DEFAULT '',
		action_type           TEXT NOT NULL,
		action_command        TEXT NOT NULL,
		rollback_command      TEXT,
		environment           TEXT NOT NULL DEFAULT '',
		service_name          TEXT NOT NULL DEFAULT '',
		severity              TEXT NOT NULL,
		requires_approval     BOOLEAN NOT NULL,
		status                TEXT NOT NULL,
		risk_level            TEXT,
		risk_rationale        TEXT,
		started_at            TIMESTAMPTZ,
		completed_at          TIMESTAMPTZ,
		execution_output      TEXT,
		execution_error       TEXT,
		execution_duration_ns BIGINT,
		rollback_executed     BOOLEAN NOT NULL DEFAULT FALSE,
		created_by            TEXT NOT NULL DEFAULT '',
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_remediation_actions_status ON remediation_actions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_remediation_actions_created_at ON remediation_actions (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS remediation_audit_log (
		id                TEXT PRIMARY KEY,
		action_id         TEXT NOT NULL REFERENCES remediation_actions (id),
		event_type        TEXT NOT NULL,
		event_description TEXT NOT NULL DEFAULT '',
		actor             TEXT NOT NULL,
		from_status       TEXT NOT NULL DEFAULT '',
		to_status         TEXT NOT NULL,
		timestamp         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_remediation_audit_action_ts ON remediation_audit_log (action_id, timestamp)`,
}

const actionColumns = `id, title, description, issue_details, resource_info, action_type, action_command,
	rollback_command, environment, service_name, severity, requires_approval, status, risk_level,
	risk_rationale, started_at, completed_at, execution_output, execution_error, execution_duration_ns,
	rollback_executed, created_by, created_at, updated_at`

// PostgresStore keeps actions and audit entries in two tables and serialises
// transitions with a row lock on the action.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connectionString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, action *models.Action, entry *models.AuditLogEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var riskLevel, riskRationale *string
	if action.RiskAssessment != nil {
		level := string(action.RiskAssessment.Level)
		riskLevel = &level
		riskRationale = &action.RiskAssessment.Rationale
	}

	_, err = tx.Exec(ctx, `INSERT INTO remediation_actions (`+actionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		action.ID, action.Title, action.Description, action.IssueDetails, action.ResourceInfo,
		string(action.ActionType), action.ActionCommand, action.RollbackCommand, action.Environment,
		action.ServiceName, string(action.Severity), action.RequiresApproval, string(action.Status),
		riskLevel, riskRationale, action.StartedAt, action.CompletedAt, action.ExecutionOutput,
		action.ExecutionError, durationNanos(action.ExecutionDuration), action.RollbackExecuted,
		action.CreatedBy, action.CreatedAt, action.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAction
		}
		return fmt.Errorf("failed to insert action: %w", err)
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit action: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Action, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+actionColumns+` FROM remediation_actions WHERE id = $1`, id)
	action, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return action, nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.Filter) ([]*models.Action, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("status", string(filter.Status))
	add("action_type", string(filter.ActionType))
	add("severity", string(filter.Severity))
	add("environment", filter.Environment)
	add("service_name", filter.ServiceName)

	query := `SELECT ` + actionColumns + ` FROM remediation_actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	actions := make([]*models.Action, 0)
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	return actions, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, expected, next models.ActionStatus, patch models.Patch, entry *models.AuditLogEntry) (*models.Action, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock makes a concurrent transition wait here and then observe
	// the committed status.
	row := tx.QueryRow(ctx, `SELECT `+actionColumns+` FROM remediation_actions WHERE id = $1 FOR UPDATE`, id)
	action, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock action: %w", err)
	}

	if action.Status != expected {
		return nil, conflict(id, expected, action.Status)
	}

	action.Status = next
	patch.Apply(action)
	action.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `UPDATE remediation_actions SET
			status = $2, started_at = $3, completed_at = $4, execution_output = $5,
			execution_error = $6, execution_duration_ns = $7, rollback_executed = $8, updated_at = $9
		WHERE id = $1`,
		id, string(action.Status), action.StartedAt, action.CompletedAt, action.ExecutionOutput,
		action.ExecutionError, durationNanos(action.ExecutionDuration), action.RollbackExecuted, action.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update action: %w", err)
	}

	var last *time.Time
	if err := tx.QueryRow(ctx, `SELECT MAX(timestamp) FROM remediation_audit_log WHERE action_id = $1`, id).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read audit tail: %w", err)
	}
	e := *entry
	if last != nil {
		e.Timestamp = audit.NextTimestamp(last.UTC(), e.Timestamp)
	}

	if err := insertEntry(ctx, tx, &e); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	return action, nil
}

func (s *PostgresStore) AuditTrail(ctx context.Context, id string) ([]*models.AuditLogEntry, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM remediation_actions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check action: %w", err)
	}
	if !exists {
		return nil, models.ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `SELECT id, action_id, event_type, event_description, actor, from_status, to_status, timestamp
		FROM remediation_audit_log WHERE action_id = $1 ORDER BY timestamp ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		var (
			e                   models.AuditLogEntry
			eventType, from, to string
		)
		if err := rows.Scan(&e.ID, &e.ActionID, &eventType, &e.EventDescription, &e.Actor, &from, &to, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.EventType = models.EventType(eventType)
		e.FromStatus = models.ActionStatus(from)
		e.ToStatus = models.ActionStatus(to)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}

	return entries, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e *models.AuditLogEntry) error {
	_, err := tx.Exec(ctx, `INSERT INTO remediation_audit_log
			(id, action_id, event_type, event_description, actor, from_status, to_status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ActionID, string(e.EventType), e.EventDescription, e.Actor,
		string(e.FromStatus), string(e.ToStatus), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func scanAction(row pgx.Row) (*models.Action, error) {
	var (
		a                            models.Action
		actionType, severity, status string
		riskLevel, riskRationale     *string
		durationNs                   *int64
	)

	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &a.IssueDetails, &a.ResourceInfo, &actionType, &a.ActionCommand,
		&a.RollbackCommand, &a.Environment, &a.ServiceName, &severity, &a.RequiresApproval, &status, &riskLevel,
		&riskRationale, &a.StartedAt, &a.CompletedAt, &a.ExecutionOutput, &a.ExecutionError, &durationNs,
		&a.RollbackExecuted, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ActionType = models.ActionType(actionType)
	a.Severity = models.Severity(severity)
	a.Status = models.ActionStatus(status)
	if riskLevel != nil {
		a.RiskAssessment = &models.RiskAssessment{Level: models.RiskLevel(*riskLevel)}
		if riskRationale != nil {
			a.RiskAssessment.Rationale = *riskRationale
		}
	}
	if durationNs != nil {
		d := time.Duration(*durationNs)
		a.ExecutionDuration = &d
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()

	return &a, nil
}

func durationNanos(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	n := d.Nanoseconds()
	return &n
}
