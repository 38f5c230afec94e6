package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	ErrFriendRequestNotFound = errors.New("friend request not found")
	ErrThreadNotFound        = errors.New("thread not found")
	ErrCommunityNotFound     = errors.New("community not found")
)

type FriendRequest struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requester_id"`
	TargetID    string    `json:"target_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type Thread struct {
	ID          string `json:"id"`
	CommunityID string `json:"community_id"`
	AuthorID    string `json:"author_id"`
	Title       string `json:"title"`
}

type Resource struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"community_id"`
	AuthorID    string    `json:"author_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CalendarEvent struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Date            string    `json:"date"`       // YYYY-MM-DD
	StartTime       string    `json:"start_time"` // HH:MM
	EndTime         string    `json:"end_time"`
	ReminderMinutes int       `json:"reminder_minutes"`
	ParticipantIDs  []string  `json:"participant_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

const insertFriendRequestSQL = `
INSERT INTO friendships (request_id, requester_id, target_id, status, created_at)
VALUES ($1, $2, $3, 'pending', $4)
`

const acceptFriendRequestSQL = `
UPDATE friendships
SET status = 'accepted'
WHERE request_id = $1 AND target_id = $2 AND status = 'pending'
RETURNING requester_id
`

const findCommunityMembersSQL = `
SELECT user_id
FROM community_members
WHERE community_id = $1
`

const getCommunityNameSQL = `
SELECT name
FROM communities
WHERE community_id = $1
`

const insertResourceSQL = `
INSERT INTO community_resources (resource_id, community_id, author_id, title, url, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const getThreadSQL = `
SELECT thread_id, community_id, author_id, title
FROM community_threads
WHERE thread_id = $1
`

const findThreadCommenterIDsSQL = `
SELECT DISTINCT author_id
FROM thread_comments
WHERE thread_id = $1
`

const insertThreadCommentSQL = `
INSERT INTO thread_comments (comment_id, thread_id, author_id, content, created_at)
VALUES ($1, $2, $3, $4, $5)
`

const insertCalendarEventSQL = `
INSERT INTO calendar_events (event_id, owner_id, title, description, event_date, start_time, end_time, reminder_minutes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const insertEventParticipantSQL = `
INSERT INTO event_participants (event_id, user_id)
VALUES ($1, $2)
ON CONFLICT (event_id, user_id) DO NOTHING
`

func (s *Store) CreateFriendRequest(ctx context.Context, requesterID, targetID string) (FriendRequest, error) {
	fr := FriendRequest{
		ID:          s.NewID(),
		RequesterID: requesterID,
		TargetID:    targetID,
		Status:      "pending",
		CreatedAt:   s.Now(),
	}
	_, err := s.Pool.Exec(ctx, insertFriendRequestSQL, fr.ID, fr.RequesterID, fr.TargetID, fr.CreatedAt)
	if err != nil {
		return FriendRequest{}, err
	}
	return fr, nil
}

// AcceptFriendRequest marks the pending request accepted and returns the
// original requester, the user who must be notified.
func (s *Store) AcceptFriendRequest(ctx context.Context, requestID, accepterID string) (string, error) {
	var requesterID string
	err := s.Pool.QueryRow(ctx, acceptFriendRequestSQL, requestID, accepterID).Scan(&requesterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrFriendRequestNotFound
		}
		return "", err
	}
	return requesterID, nil
}

func (s *Store) FindCommunityMembers(ctx context.Context, communityID string) ([]string, error) {
	return s.queryIDs(ctx, findCommunityMembersSQL, communityID)
}

func (s *Store) GetCommunityName(ctx context.Context, communityID string) (string, error) {
	var name string
	err := s.Pool.QueryRow(ctx, getCommunityNameSQL, communityID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrCommunityNotFound
		}
		return "", err
	}
	return name, nil
}

func (s *Store) CreateResource(ctx context.Context, communityID, authorID, title, url string) (Resource, error) {
	r := Resource{
		ID:          s.NewID(),
		CommunityID: communityID,
		AuthorID:    authorID,
		Title:       title,
		URL:         url,
		CreatedAt:   s.Now(),
	}
	_, err := s.Pool.Exec(ctx, insertResourceSQL, r.ID, r.CommunityID, r.AuthorID, r.Title, r.URL, r.CreatedAt)
	if err != nil {
		return Resource{}, err
	}
	return r, nil
}

func (s *Store) GetThread(ctx context.Context, threadID string) (Thread, error) {
	var t Thread
	err := s.Pool.QueryRow(ctx, getThreadSQL, threadID).Scan(&t.ID, &t.CommunityID, &t.AuthorID, &t.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Thread{}, ErrThreadNotFound
		}
		return Thread{}, err
	}
	return t, nil
}

// FindThreadParticipantIDs returns the thread author plus every distinct
// commenter, deduplicated.
func (s *Store) FindThreadParticipantIDs(ctx context.Context, threadID string) ([]string, error) {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	commenters, err := s.queryIDs(ctx, findThreadCommenterIDsSQL, threadID)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{thread.AuthorID: {}}
	ids := []string{thread.AuthorID}
	for _, id := range commenters {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) CreateThreadComment(ctx context.Context, threadID, authorID, content string) (string, error) {
	commentID := s.NewID()
	_, err := s.Pool.Exec(ctx, insertThreadCommentSQL, commentID, threadID, authorID, content, s.Now())
	if err != nil {
		return "", err
	}
	return commentID, nil
}

// CreateCalendarEvent inserts the event and its participants in one
// transaction. Participant list is expected to already include the owner.
func (s *Store) CreateCalendarEvent(ctx context.Context, ev CalendarEvent) (CalendarEvent, error) {
	ev.ID = s.NewID()
	ev.CreatedAt = s.Now()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CalendarEvent{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertCalendarEventSQL,
		ev.ID, ev.OwnerID, ev.Title, ev.Description, ev.Date, ev.StartTime, ev.EndTime, ev.ReminderMinutes, ev.CreatedAt,
	); err != nil {
		return CalendarEvent{}, err
	}
	for _, userID := range ev.ParticipantIDs {
		if _, err := tx.Exec(ctx, insertEventParticipantSQL, ev.ID, userID); err != nil {
			return CalendarEvent{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return CalendarEvent{}, err
	}
	return ev, nil
}
