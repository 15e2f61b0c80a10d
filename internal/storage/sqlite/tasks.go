package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tasktracker/internal/models"
)

const taskColumns = `t.id, t.title, t.description, t.status, t.priority, t.created_by, t.parent_id,
    t.deadline, t.start_date, t.created_at, t.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		t                   models.Task
		description, parent sql.NullString
		deadline, start     sql.NullInt64
		createdAt, updated  int64
	)
	if err := row.Scan(&t.ID, &t.Title, &description, &t.Status, &t.Priority, &t.CreatedBy, &parent,
		&deadline, &start, &createdAt, &updated); err != nil {
		return models.Task{}, err
	}
	t.Description = stringPtr(description)
	t.ParentTaskID = stringPtr(parent)
	t.Deadline = timePtr(deadline)
	t.StartDate = timePtr(start)
	t.CreatedAt = fromUnixNano(createdAt)
	t.UpdatedAt = fromUnixNano(updated)
	t.AssignedTo = []string{}
	t.Tags = []string{}
	return t, nil
}

// CreateTask inserts a task with its assignee and tag sets.
func (s *Store) CreateTask(ctx context.Context, t models.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin create task", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id, title, description, status, priority, created_by, parent_id,
        deadline, start_date, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, nullString(t.Description), t.Status, t.Priority, t.CreatedBy, nullString(t.ParentTaskID),
		nullTime(t.Deadline), nullTime(t.StartDate), unixNano(t.CreatedAt), unixNano(t.UpdatedAt))
	if err != nil {
		return dbError("insert task", err)
	}
	if err := writeSets(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbError("commit create task", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Task{}, dbError("get task", err)
	}
	tasks := []models.Task{t}
	if err := s.loadSets(ctx, tasks); err != nil {
		return models.Task{}, err
	}
	return tasks[0], nil
}

// UpdateTask overwrites the stored task document. Concurrent writers resolve
// last write wins.
func (s *Store) UpdateTask(ctx context.Context, t models.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin update task", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
        deadline = ?, start_date = ?, updated_at = ? WHERE id = ?`,
		t.Title, nullString(t.Description), t.Status, t.Priority,
		nullTime(t.Deadline), nullTime(t.StartDate), unixNano(t.UpdatedAt), t.ID)
	if err != nil {
		return dbError("update task", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return dbError("update task", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", t.ID, models.ErrNotFound)
	}

	for _, stmt := range []string{
		`DELETE FROM task_assignees WHERE task_id = ?`,
		`DELETE FROM task_tags WHERE task_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, t.ID); err != nil {
			return dbError("reset task sets", err)
		}
	}
	if err := writeSets(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbError("commit update task", err)
	}
	return nil
}

func writeSets(ctx context.Context, tx *sql.Tx, t models.Task) error {
	for _, userID := range t.AssignedTo {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_assignees(task_id, user_id) VALUES(?, ?)`, t.ID, userID); err != nil {
			return dbError("insert assignee", err)
		}
	}
	for _, tag := range t.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_tags(task_id, tag) VALUES(?, ?)`, t.ID, tag); err != nil {
			return dbError("insert tag", err)
		}
	}
	return nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + taskColumns + ` FROM tasks t WHERE 1=1`)

	if f.Status != nil {
		sb.WriteString(` AND t.status = ?`)
		args = append(args, *f.Status)
	}
	if f.Priority != nil {
		sb.WriteString(` AND t.priority = ?`)
		args = append(args, *f.Priority)
	}
	if len(f.Tags) > 0 {
		sb.WriteString(` AND EXISTS (SELECT 1 FROM task_tags g WHERE g.task_id = t.id AND g.tag IN (` + placeholders(len(f.Tags)) + `))`)
		args = append(args, toArgs(f.Tags)...)
	}
	if f.Text != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Text)) + "%"
		sb.WriteString(` AND (LOWER(t.title) LIKE ? ESCAPE '\' OR LOWER(COALESCE(t.description, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if f.AssignedTo != nil {
		sb.WriteString(` AND EXISTS (SELECT 1 FROM task_assignees a WHERE a.task_id = t.id AND a.user_id = ?)`)
		args = append(args, *f.AssignedTo)
	}
	if f.ParentTaskID != nil {
		sb.WriteString(` AND t.parent_id = ?`)
		args = append(args, *f.ParentTaskID)
	} else {
		sb.WriteString(` AND t.parent_id IS NULL`)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	sb.WriteString(` ORDER BY t.created_at DESC, t.rowid DESC LIMIT ? OFFSET ?`)
	args = append(args, limit, f.Offset)

	return s.queryTasks(ctx, "list tasks", sb.String(), args...)
}

// ListChildren returns the direct children of a task, oldest first.
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]models.Task, error) {
	return s.queryTasks(ctx, "list children",
		`SELECT `+taskColumns+` FROM tasks t WHERE t.parent_id = ? ORDER BY t.created_at ASC, t.rowid ASC`, parentID)
}

func (s *Store) queryTasks(ctx context.Context, op, query string, args ...any) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(op, err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, dbError("scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(op, err)
	}
	if err := s.loadSets(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// loadSets fills the assignee and tag sets of tasks in place.
func (s *Store) loadSets(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	index := make(map[string]int, len(tasks))
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
		ids[i] = t.ID
	}

	load := func(query string, assign func(t *models.Task, v string)) error {
		rows, err := s.db.QueryContext(ctx, query, toArgs(ids)...)
		if err != nil {
			return dbError("load task sets", err)
		}
		defer rows.Close()
		for rows.Next() {
			var taskID, value string
			if err := rows.Scan(&taskID, &value); err != nil {
				return dbError("scan task set", err)
			}
			assign(&tasks[index[taskID]], value)
		}
		return rows.Err()
	}

	in := placeholders(len(ids))
	if err := load(`SELECT task_id, user_id FROM task_assignees WHERE task_id IN (`+in+`) ORDER BY user_id`,
		func(t *models.Task, v string) { t.AssignedTo = append(t.AssignedTo, v) }); err != nil {
		return err
	}
	return load(`SELECT task_id, tag FROM task_tags WHERE task_id IN (`+in+`) ORDER BY tag`,
		func(t *models.Task, v string) { t.Tags = append(t.Tags, v) })
}

// DeleteTasks removes the given tasks and every comment attached to the
// commentsOf task ids in one transaction.
func (s *Store) DeleteTasks(ctx context.Context, taskIDs, commentsOf []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin delete tasks", err)
	}
	defer tx.Rollback()

	if len(commentsOf) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE task_id IN (`+placeholders(len(commentsOf))+`)`, toArgs(commentsOf)...); err != nil {
			return dbError("delete comments", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id IN (`+placeholders(len(taskIDs))+`)`, toArgs(taskIDs)...)
	if err != nil {
		return dbError("delete tasks", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return dbError("delete tasks", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", taskIDs[0], models.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return dbError("commit delete tasks", err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
