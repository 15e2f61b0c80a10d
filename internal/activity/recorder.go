// Package activity keeps the append-only audit trail of task mutations.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tasktracker/internal/models"
)

// Log is the durable backing for activity entries.
type Log interface {
	AppendActivity(ctx context.Context, entries []models.ActivityEntry) error
	ListActivity(ctx context.Context, taskID string) ([]models.ActivityEntry, error)
}

// Recorder validates and timestamps entries before writing them once.
type Recorder struct {
	log Log
	now func() time.Time
}

// NewRecorder returns a recorder writing to log.
func NewRecorder(log Log) *Recorder {
	return &Recorder{log: log, now: time.Now}
}

// WithClock overrides the timestamp source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Append writes entries as one batch. Every entry in the batch shares the
// same timestamp.
func (r *Recorder) Append(ctx context.Context, entries ...models.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ts := r.now().UTC()
	batch := make([]models.ActivityEntry, len(entries))
	for i, e := range entries {
		if e.TaskID == "" || e.ActorID == "" {
			return fmt.Errorf("%w: activity entry needs task and actor", models.ErrValidation)
		}
		if !e.Action.Valid() {
			return fmt.Errorf("%w: unknown activity action %q", models.ErrValidation, e.Action)
		}
		e.ID = 0
		e.Timestamp = ts
		batch[i] = e
	}
	return r.log.AppendActivity(ctx, batch)
}

// Query returns a task's entries oldest first.
func (r *Recorder) Query(ctx context.Context, taskID string) ([]models.ActivityEntry, error) {
	return r.log.ListActivity(ctx, taskID)
}

// Changes builds one entry per differing field between before and after.
func Changes(before, after models.Task, fields []models.Field) []models.ActivityEntry {
	var out []models.ActivityEntry
	for _, f := range fields {
		oldValue, newValue := before.FieldValue(f), after.FieldValue(f)
		if string(oldValue) == string(newValue) {
			continue
		}
		out = append(out, models.ActivityEntry{
			TaskID:   before.ID,
			Field:    f,
			OldValue: oldValue,
			NewValue: newValue,
		})
	}
	return out
}

// Replay folds entries in order and returns the latest value of every field
// that was ever changed. Each transition must start from the value the
// previous transition of the same field ended on.
func Replay(entries []models.ActivityEntry) (map[models.Field]json.RawMessage, error) {
	state := make(map[models.Field]json.RawMessage)
	for _, e := range entries {
		if e.Field == "" {
			continue
		}
		if prev, ok := state[e.Field]; ok && string(prev) != string(e.OldValue) {
			return nil, fmt.Errorf("activity %d: %s starts from %s, expected %s", e.ID, e.Field, e.OldValue, prev)
		}
		state[e.Field] = e.NewValue
	}
	return state, nil
}
