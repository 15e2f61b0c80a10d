package sqlite

import (
	"context"

	"tasktracker/internal/models"
)

// CreateComment stores a comment. Comment authoring lives outside the task
// core; the store keeps it for seeding and for the comments subsystem.
func (s *Store) CreateComment(ctx context.Context, c models.Comment) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO comments(id, task_id, author_id, body, created_at) VALUES(?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.AuthorID, c.Body, unixNano(c.CreatedAt))
	if err != nil {
		return dbError("insert comment", err)
	}
	return nil
}

// ListComments returns the comments of a task, oldest first.
func (s *Store) ListComments(ctx context.Context, taskID string) ([]models.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, author_id, body, created_at FROM comments
        WHERE task_id = ? ORDER BY created_at ASC, rowid ASC`, taskID)
	if err != nil {
		return nil, dbError("list comments", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var (
			c         models.Comment
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &createdAt); err != nil {
			return nil, dbError("scan comment", err)
		}
		c.CreatedAt = fromUnixNano(createdAt)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list comments", err)
	}
	return comments, nil
}
