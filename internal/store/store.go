// Package store persists remediation actions and their audit trail.
//
// UpdateStatus is the only way a status changes. Every backend implements it
// as one atomic compare-and-swap on the stored status that also appends the
// transition's audit entry, so two callers racing on the same action cannot
// both win, even across service replicas.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

type Store interface {
	// Create persists a new action together with its "created" entry.
	Create(ctx context.Context, action *models.Action, entry *models.AuditLogEntry) error
	Get(ctx context.Context, id string) (*models.Action, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Action, error)
	// UpdateStatus moves the action from expected to next, applies patch and
	// appends entry. It returns *models.ConflictError when the stored status
	// differs from expected and models.ErrNotFound for unknown ids.
	UpdateStatus(ctx context.Context, id string, expected, next models.ActionStatus, patch models.Patch, entry *models.AuditLogEntry) (*models.Action, error)
	AuditTrail(ctx context.Context, id string) ([]*models.AuditLogEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

var ErrDuplicateAction = errors.New("action already exists")

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func conflict(id string, expected, actual models.ActionStatus) error {
	return &models.ConflictError{
		ActionID: id,
		Expected: []models.ActionStatus{expected},
		Actual:   actual,
	}
}

func paginate(actions []*models.Action, limit, offset int) []*models.Action {
	if offset > 0 {
		if offset >= len(actions) {
			return []*models.Action{}
		}
		actions = actions[offset:]
	}
	if limit > 0 && len(actions) > limit {
		actions = actions[:limit]
	}
	return actions
}
