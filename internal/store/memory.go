package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/souravb-dev/GenAIOps-sub001/internal/audit"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// MemoryStore keeps everything in process. It is used by tests and by
// single-instance development setups.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]*models.Action
	trails  map[string][]*models.AuditLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions: make(map[string]*models.Action),
		trails:  make(map[string][]*models.AuditLogEntry),
	}
}

func (s *MemoryStore) Create(ctx context.Context, action *models.Action, entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actions[action.ID]; exists {
		return ErrDuplicateAction
	}

	s.actions[action.ID] = action.Clone()
	e := *entry
	s.trails[action.ID] = []*models.AuditLogEntry{&e}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return action.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter models.Filter) ([]*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*models.Action, 0, len(s.actions))
	for _, action := range s.actions {
		if !filter.Matches(action) {
			continue
		}
		results = append(results, action.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	return paginate(results, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, expected, next models.ActionStatus, patch models.Patch, entry *models.AuditLogEntry) (*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.actions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if current.Status != expected {
		return nil, conflict(id, expected, current.Status)
	}

	updated := current.Clone()
	updated.Status = next
	patch.Apply(updated)
	updated.UpdatedAt = time.Now().UTC()

	trail := s.trails[id]
	e := *entry
	if n := len(trail); n > 0 {
		e.Timestamp = audit.NextTimestamp(trail[n-1].Timestamp, e.Timestamp)
	}

	s.actions[id] = updated
	s.trails[id] = append(trail, &e)

	return updated.Clone(), nil
}

func (s *MemoryStore) AuditTrail(ctx context.Context, id string) ([]*models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actions[id]; !ok {
		return nil, models.ErrNotFound
	}

	trail := s.trails[id]
	out := make([]*models.AuditLogEntry, 0, len(trail))
	for _, e := range trail {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
