package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/souravb-dev/GenAIOps-sub001/internal/audit"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// RedisStore keeps each action as a JSON document and its audit trail as a
// sorted set scored by timestamp. Transitions WATCH both keys so a competing
// writer aborts the EXEC and the loser sees a conflict.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	glog.Infof("Connected to Redis: %s", addr)

	return &RedisStore{rdb: rdb}, nil
}

func actionKey(id string) string { return fmt.Sprintf("remediation:action:%s", id) }

func auditKey(id string) string { return fmt.Sprintf("remediation:audit:%s", id) }

func statusKey(status models.ActionStatus) string {
	return fmt.Sprintf("remediation:actions:status:%s", status)
}

const allActionsKey = "remediation:actions"

// reader is satisfied by both *redis.Client and the *redis.Tx handed to WATCH.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func (s *RedisStore) Create(ctx context.Context, action *models.Action, entry *models.AuditLogEntry) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	key := actionKey(action.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check action: %w", err)
		}
		if n > 0 {
			return ErrDuplicateAction
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, allActionsKey, redis.Z{Score: float64(action.CreatedAt.UnixNano()), Member: action.ID})
			pipe.SAdd(ctx, statusKey(action.Status), action.ID)
			pipe.ZAdd(ctx, auditKey(action.ID), redis.Z{Score: auditScore(entry.Timestamp), Member: entryData})
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrDuplicateAction
	}
	if err != nil && !errors.Is(err, ErrDuplicateAction) {
		return fmt.Errorf("failed to store action: %w", err)
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Action, error) {
	return getAction(ctx, s.rdb, id)
}

func (s *RedisStore) List(ctx context.Context, filter models.Filter) ([]*models.Action, error) {
	ids, err := s.rdb.ZRevRange(ctx, allActionsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	var inStatus map[string]struct{}
	if filter.Status != "" {
		members, err := s.rdb.SMembers(ctx, statusKey(filter.Status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get actions by status: %w", err)
		}
		inStatus = make(map[string]struct{}, len(members))
		for _, m := range members {
			inStatus[m] = struct{}{}
		}
	}

	actions := make([]*models.Action, 0)
	for _, id := range ids {
		if inStatus != nil {
			if _, ok := inStatus[id]; !ok {
				continue
			}
		}
		action, err := getAction(ctx, s.rdb, id)
		if err != nil {
			continue // Skip records removed out of band
		}
		if !filter.Matches(action) {
			continue
		}
		actions = append(actions, action)
	}

	return paginate(actions, filter.Limit, filter.Offset), nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, expected, next models.ActionStatus, patch models.Patch, entry *models.AuditLogEntry) (*models.Action, error) {
	key := actionKey(id)
	trailKey := auditKey(id)

	var updated *models.Action
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		action, err := getAction(ctx, tx, id)
		if err != nil {
			return err
		}
		if action.Status != expected {
			return conflict(id, expected, action.Status)
		}

		action.Status = next
		patch.Apply(action)
		action.UpdatedAt = time.Now().UTC()

		e := *entry
		last, err := lastEntry(ctx, tx, trailKey)
		if err != nil {
			return err
		}
		if last != nil {
			e.Timestamp = audit.NextTimestamp(last.Timestamp, e.Timestamp)
		}

		data, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}
		entryData, err := json.Marshal(&e)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SRem(ctx, statusKey(expected), id)
			pipe.SAdd(ctx, statusKey(next), id)
			pipe.ZAdd(ctx, trailKey, redis.Z{Score: auditScore(e.Timestamp), Member: entryData})
			return nil
		})
		if err != nil {
			return err
		}

		updated = action
		return nil
	}, key, trailKey)

	if errors.Is(err, redis.TxFailedErr) {
		// Another writer committed between WATCH and EXEC.
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, conflict(id, expected, current.Status)
	}
	if err != nil {
		var conflictErr *models.ConflictError
		if errors.As(err, &conflictErr) || errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update action status: %w", err)
	}

	return updated, nil
}

func (s *RedisStore) AuditTrail(ctx context.Context, id string) ([]*models.AuditLogEntry, error) {
	n, err := s.rdb.Exists(ctx, actionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check action: %w", err)
	}
	if n == 0 {
		return nil, models.ErrNotFound
	}

	members, err := s.rdb.ZRange(ctx, auditKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}

	entries := make([]*models.AuditLogEntry, 0, len(members))
	for _, m := range members {
		var e models.AuditLogEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// GetClient exposes the underlying client for cleanup in tests.
func (s *RedisStore) GetClient() *redis.Client {
	return s.rdb
}

func getAction(ctx context.Context, c reader, id string) (*models.Action, error) {
	data, err := c.Get(ctx, actionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get action: %w", err)
	}

	var action models.Action
	if err := json.Unmarshal([]byte(data), &action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action: %w", err)
	}
	return &action, nil
}

func lastEntry(ctx context.Context, c reader, key string) (*models.AuditLogEntry, error) {
	members, err := c.ZRevRange(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit tail: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	var e models.AuditLogEntry
	if err := json.Unmarshal([]byte(members[0]), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
	}
	return &e, nil
}

func auditScore(ts time.Time) float64 {
	return float64(ts.UnixMicro())
}
