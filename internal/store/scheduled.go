package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// ScheduledNotification is a time-deferred notification awaiting a sweep.
// Its sent flag transitions false -> true exactly once.
type ScheduledNotification struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Message      string    `json:"message"`
	Type         string    `json:"type"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Sent         bool      `json:"sent"`
}

const insertScheduledSQL = `
INSERT INTO scheduled_notifications (scheduled_id, user_id, message, type, scheduled_for, sent, created_at)
VALUES ($1, $2, $3, $4, $5, false, $6)
`

const findDueScheduledSQL = `
SELECT scheduled_id, user_id, message, type, scheduled_for, sent
FROM scheduled_notifications
WHERE sent = false AND scheduled_for <= $1
ORDER BY scheduled_for
`

const claimScheduledSentSQL = `
UPDATE scheduled_notifications
SET sent = true
WHERE scheduled_id = $1 AND sent = false
`

// CreateScheduledNotifications inserts one pending row per recipient, all
// sharing the same UTC fire instant.
func (s *Store) CreateScheduledNotifications(ctx context.Context, userIDs []string, message, notifType string, scheduledFor time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	now := s.Now()
	for _, userID := range userIDs {
		batch.Queue(insertScheduledSQL, s.NewID(), userID, message, notifType, scheduledFor.UTC(), now)
	}
	results := s.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range userIDs {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// FindDueScheduledNotifications returns every pending row whose fire instant
// is at or before now. Comparison happens in the same absolute frame the rows
// were stored in (timestamptz), so reminders neither fire early nor late.
func (s *Store) FindDueScheduledNotifications(ctx context.Context, now time.Time) ([]ScheduledNotification, error) {
	rows, err := s.Pool.Query(ctx, findDueScheduledSQL, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScheduledNotification
	for rows.Next() {
		var sn ScheduledNotification
		if err := rows.Scan(&sn.ID, &sn.UserID, &sn.Message, &sn.Type, &sn.ScheduledFor, &sn.Sent); err != nil {
			return nil, err
		}
		result = append(result, sn)
	}
	return result, rows.Err()
}

// ClaimScheduledSent flips sent to true only if it is still false, and
// reports whether this caller won the claim. A second sweep against the same
// row is therefore a no-op.
func (s *Store) ClaimScheduledSent(ctx context.Context, scheduledID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, claimScheduledSentSQL, scheduledID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
