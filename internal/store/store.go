// Package store is the durable side of the system: every record that must
// survive a restart lives here, behind pgx repositories.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nuid"
)

const createUsersTableSQL = `
CREATE TABLE IF NOT EXISTS users (
  user_id text PRIMARY KEY,
  username text NOT NULL UNIQUE,
  display_name text NOT NULL DEFAULT '',
  password_hash text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createChatsTableSQL = `
CREATE TABLE IF NOT EXISTS chats (
  chat_id text PRIMARY KEY,
  name text NOT NULL DEFAULT '',
  is_group boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createChatParticipantsTableSQL = `
CREATE TABLE IF NOT EXISTS chat_participants (
  chat_id text NOT NULL,
  user_id text NOT NULL,
  PRIMARY KEY (chat_id, user_id)
)`

const createMessagesTableSQL = `
CREATE TABLE IF NOT EXISTS messages (
  message_id text PRIMARY KEY,
  chat_id text NOT NULL,
  sender_id text NOT NULL,
  content text NOT NULL DEFAULT '',
  file_url text,
  note_id text,
  created_at timestamptz NOT NULL
)`

const createFriendshipsTableSQL = `
CREATE TABLE IF NOT EXISTS friendships (
  request_id text PRIMARY KEY,
  requester_id text NOT NULL,
  target_id text NOT NULL,
  status text NOT NULL DEFAULT 'pending',
  created_at timestamptz NOT NULL
)`

const createCommunitiesTableSQL = `
CREATE TABLE IF NOT EXISTS communities (
  community_id text PRIMARY KEY,
  name text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createCommunityMembersTableSQL = `
CREATE TABLE IF NOT EXISTS community_members (
  community_id text NOT NULL,
  user_id text NOT NULL,
  PRIMARY KEY (community_id, user_id)
)`

const createCommunityResourcesTableSQL = `
CREATE TABLE IF NOT EXISTS community_resources (
  resource_id text PRIMARY KEY,
  community_id text NOT NULL,
  author_id text NOT NULL,
  title text NOT NULL,
  url text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL
)`

const createCommunityThreadsTableSQL = `
CREATE TABLE IF NOT EXISTS community_threads (
  thread_id text PRIMARY KEY,
  community_id text NOT NULL,
  author_id text NOT NULL,
  title text NOT NULL,
  created_at timestamptz NOT NULL
)`

const createThreadCommentsTableSQL = `
CREATE TABLE IF NOT EXISTS thread_comments (
  comment_id text PRIMARY KEY,
  thread_id text NOT NULL,
  author_id text NOT NULL,
  content text NOT NULL,
  created_at timestamptz NOT NULL
)`

const createCalendarEventsTableSQL = `
CREATE TABLE IF NOT EXISTS calendar_events (
  event_id text PRIMARY KEY,
  owner_id text NOT NULL,
  title text NOT NULL,
  description text NOT NULL DEFAULT '',
  event_date date NOT NULL,
  start_time text NOT NULL,
  end_time text NOT NULL,
  reminder_minutes integer NOT NULL DEFAULT 1440,
  created_at timestamptz NOT NULL
)`

const createEventParticipantsTableSQL = `
CREATE TABLE IF NOT EXISTS event_participants (
  event_id text NOT NULL,
  user_id text NOT NULL,
  PRIMARY KEY (event_id, user_id)
)`

const createNotificationsTableSQL = `
CREATE TABLE IF NOT EXISTS notifications (
  notification_id text PRIMARY KEY,
  user_id text NOT NULL,
  message text NOT NULL,
  type text NOT NULL,
  is_read boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL
)`

const createScheduledNotificationsTableSQL = `
CREATE TABLE IF NOT EXISTS scheduled_notifications (
  scheduled_id text PRIMARY KEY,
  user_id text NOT NULL,
  message text NOT NULL,
  type text NOT NULL,
  scheduled_for timestamptz NOT NULL,
  sent boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL
)`

const createDueScheduledIndexSQL = `
CREATE INDEX IF NOT EXISTS scheduled_notifications_due_idx
ON scheduled_notifications (scheduled_for)
WHERE sent = false`

// Store wraps the connection pool together with the id and clock sources so
// repositories stay deterministic under test.
type Store struct {
	Pool  *pgxpool.Pool
	NewID func() string
	Now   func() time.Time
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Pool:  pool,
		NewID: nuid.Next,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		createUsersTableSQL,
		createChatsTableSQL,
		createChatParticipantsTableSQL,
		createMessagesTableSQL,
		createFriendshipsTableSQL,
		createCommunitiesTableSQL,
		createCommunityMembersTableSQL,
		createCommunityResourcesTableSQL,
		createCommunityThreadsTableSQL,
		createThreadCommentsTableSQL,
		createCalendarEventsTableSQL,
		createEventParticipantsTableSQL,
		createNotificationsTableSQL,
		createScheduledNotificationsTableSQL,
		createDueScheduledIndexSQL,
	}
	for _, stmt := range stmts {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
