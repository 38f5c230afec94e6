package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Notification is the durable per-recipient record produced by the
// dispatcher and the sweep worker. Immutable except for the read flag.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

const insertNotificationSQL = `
INSERT INTO notifications (notification_id, user_id, message, type, is_read, created_at)
VALUES ($1, $2, $3, $4, false, $5)
`

const listNotificationsSQL = `
SELECT notification_id, user_id, message, type, is_read, created_at
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`

const markNotificationReadSQL = `
UPDATE notifications
SET is_read = true
WHERE notification_id = $1 AND user_id = $2
`

const deleteNotificationSQL = `
DELETE FROM notifications
WHERE notification_id = $1 AND user_id = $2
`

func (s *Store) CreateNotification(ctx context.Context, userID, message, notifType string) (Notification, error) {
	n := Notification{
		ID:        s.NewID(),
		UserID:    userID,
		Message:   message,
		Type:      notifType,
		CreatedAt: s.Now(),
	}
	_, err := s.Pool.Exec(ctx, insertNotificationSQL, n.ID, n.UserID, n.Message, n.Type, n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, listNotificationsSQL, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// MarkNotificationRead flips the read flag. Scoped to the owner so a user
// cannot touch another user's notifications.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	tag, err := s.Pool.Exec(ctx, markNotificationReadSQL, notificationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *Store) DeleteNotification(ctx context.Context, notificationID, userID string) error {
	tag, err := s.Pool.Exec(ctx, deleteNotificationSQL, notificationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
