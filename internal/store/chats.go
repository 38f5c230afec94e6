package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrChatNotFound = errors.New("chat not found")

type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"is_group"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content,omitempty"`
	FileURL   *string   `json:"file_url,omitempty"`
	NoteID    *string   `json:"note_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const getChatSQL = `
SELECT chat_id, name, is_group
FROM chats
WHERE chat_id = $1
`

const findChatParticipantsSQL = `
SELECT user_id
FROM chat_participants
WHERE chat_id = $1
`

const insertChatSQL = `
INSERT INTO chats (chat_id, name, is_group, created_at)
VALUES ($1, $2, $3, $4)
`

const insertChatParticipantSQL = `
INSERT INTO chat_participants (chat_id, user_id)
VALUES ($1, $2)
ON CONFLICT (chat_id, user_id) DO NOTHING
`

const insertMessageSQL = `
INSERT INTO messages (message_id, chat_id, sender_id, content, file_url, note_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (s *Store) GetChat(ctx context.Context, chatID string) (Chat, error) {
	var c Chat
	err := s.Pool.QueryRow(ctx, getChatSQL, chatID).Scan(&c.ID, &c.Name, &c.IsGroup)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chat{}, ErrChatNotFound
		}
		return Chat{}, err
	}
	return c, nil
}

func (s *Store) FindChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	return s.queryIDs(ctx, findChatParticipantsSQL, chatID)
}

func (s *Store) IsChatParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var marker int
	err := s.Pool.QueryRow(ctx,
		`SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&marker)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateChat inserts the chat and its participant rows in one transaction.
func (s *Store) CreateChat(ctx context.Context, name string, isGroup bool, participantIDs []string) (Chat, error) {
	c := Chat{ID: s.NewID(), Name: name, IsGroup: isGroup}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Chat{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertChatSQL, c.ID, c.Name, c.IsGroup, s.Now()); err != nil {
		return Chat{}, err
	}
	for _, userID := range participantIDs {
		if _, err := tx.Exec(ctx, insertChatParticipantSQL, c.ID, userID); err != nil {
			return Chat{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Chat{}, err
	}
	return c, nil
}

func (s *Store) CreateMessage(ctx context.Context, chatID, senderID, content string, fileURL, noteID *string) (Message, error) {
	m := Message{
		ID:        s.NewID(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		FileURL:   fileURL,
		NoteID:    noteID,
		CreatedAt: s.Now(),
	}
	_, err := s.Pool.Exec(ctx, insertMessageSQL, m.ID, m.ChatID, m.SenderID, m.Content, m.FileURL, m.NoteID, m.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (s *Store) queryIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
