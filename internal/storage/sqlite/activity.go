package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"tasktracker/internal/models"
)

// AppendActivity writes a batch of entries in one transaction. Entries are
// never updated afterwards.
func (s *Store) AppendActivity(ctx context.Context, entries []models.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin append activity", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO activity(task_id, actor_id, action, field, old_value, new_value, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return dbError("prepare append activity", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.TaskID, e.ActorID, e.Action, nullField(e.Field),
			nullJSON(e.OldValue), nullJSON(e.NewValue), unixNano(e.Timestamp)); err != nil {
			return dbError("insert activity", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return dbError("commit append activity", err)
	}
	return nil
}

// ListActivity returns a task's entries in insertion order.
func (s *Store) ListActivity(ctx context.Context, taskID string) ([]models.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, actor_id, action, field, old_value, new_value, created_at
        FROM activity WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, dbError("list activity", err)
	}
	defer rows.Close()

	entries := []models.ActivityEntry{}
	for rows.Next() {
		var (
			e                 models.ActivityEntry
			field, oldV, newV sql.NullString
			createdAt         int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ActorID, &e.Action, &field, &oldV, &newV, &createdAt); err != nil {
			return nil, dbError("scan activity", err)
		}
		e.Field = models.Field(field.String)
		e.OldValue = rawJSON(oldV)
		e.NewValue = rawJSON(newV)
		e.Timestamp = fromUnixNano(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list activity", err)
	}
	return entries, nil
}

func nullField(f models.Field) sql.NullString {
	return sql.NullString{String: string(f), Valid: f != ""}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}

func rawJSON(n sql.NullString) json.RawMessage {
	if !n.Valid {
		return nil
	}
	return json.RawMessage(n.String)
}
