// Package audit builds the append-only transition ledger kept next to every
// remediation action and checks that it agrees with the stored status.
//
// Entries are written by the store inside the same atomic unit as the status
// change they describe; nothing in this package edits or removes them.
package audit

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

// TimestampStep is the minimum spacing enforced between two entries of the
// same action so ordering by timestamp is strict.
const TimestampStep = time.Microsecond

// NewEntry builds an entry for the transition from -> to.
func NewEntry(actionID string, event models.EventType, description, actor string, from, to models.ActionStatus) *models.AuditLogEntry {
	if actor == "" {
		actor = models.SystemActor
	}
	return &models.AuditLogEntry{
		ID:               uuid.NewString(),
		ActionID:         actionID,
		EventType:        event,
		EventDescription: description,
		Actor:            actor,
		FromStatus:       from,
		ToStatus:         to,
		Timestamp:        time.Now().UTC().Truncate(TimestampStep),
	}
}

// NextTimestamp returns ts, or last+TimestampStep when ts would not be
// strictly after the previous entry for the same action.
func NextTimestamp(last, ts time.Time) time.Time {
	if last.IsZero() || ts.After(last) {
		return ts
	}
	return last.Add(TimestampStep)
}

// Sort orders entries by timestamp. Stores return them sorted already; this
// is for callers that merge trails.
func Sort(entries []*models.AuditLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

// Replay derives the current status from an ordered trail.
func Replay(entries []*models.AuditLogEntry) (models.ActionStatus, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("empty audit trail")
	}
	if entries[0].EventType != models.EventCreated {
		return "", fmt.Errorf("audit trail starts with %s, expected %s", entries[0].EventType, models.EventCreated)
	}

	status := entries[0].ToStatus
	for i, e := range entries[1:] {
		if e.FromStatus != status {
			return "", fmt.Errorf("entry %d (%s) moves from %s but trail is at %s", i+1, e.EventType, e.FromStatus, status)
		}
		if !entries[i].Timestamp.Before(e.Timestamp) {
			return "", fmt.Errorf("entry %d (%s) is not after its predecessor", i+1, e.EventType)
		}
		status = e.ToStatus
	}
	return status, nil
}

// Verify checks that replaying the trail yields the action's stored status.
func Verify(action *models.Action, entries []*models.AuditLogEntry) error {
	status, err := Replay(entries)
	if err != nil {
		return err
	}
	if status != action.Status {
		return fmt.Errorf("audit trail for %s ends at %s but action is %s", action.ID, status, action.Status)
	}
	return nil
}
