package sqlite

import (
	"context"
	"fmt"

	"tasktracker/internal/models"
)

// CreateNotification persists a notification.
func (s *Store) CreateNotification(ctx context.Context, n models.Notification) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notifications(id, recipient_id, task_id, type, title, message, read, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientUserID, n.TaskID, n.Type, n.Title, n.Message, n.Read, unixNano(n.CreatedAt))
	if err != nil {
		return dbError("insert notification", err)
	}
	return nil
}

// ListNotifications returns the notifications of a recipient, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, recipient_id, task_id, type, title, message, read, created_at
        FROM notifications WHERE recipient_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, dbError("list notifications", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var (
			n         models.Notification
			createdAt int64
		)
		if err := rows.Scan(&n.ID, &n.RecipientUserID, &n.TaskID, &n.Type, &n.Title, &n.Message, &n.Read, &createdAt); err != nil {
			return nil, dbError("scan notification", err)
		}
		n.CreatedAt = fromUnixNano(createdAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list notifications", err)
	}
	return out, nil
}

// MarkNotificationRead flags one of the recipient's notifications as read.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ? AND recipient_id = ?`, id, userID)
	if err != nil {
		return dbError("mark notification read", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return dbError("mark notification read", err)
	}
	if affected == 0 {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return nil
}
