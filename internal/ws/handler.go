// Package ws terminates websocket connections: it authenticates the client,
// attaches a session to the connection registry and speaks the inbound frame
// protocol (join_chat, leave_chat, send_message).
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/campushub/backend/internal/event"
	"github.com/campushub/backend/internal/platform/auth"
	"github.com/campushub/backend/internal/realtime"
	"github.com/campushub/backend/internal/store"
	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	maxMessageSize = 8 << 10
)

// Store is the slice of the durable store the handler depends on.
type Store interface {
	GetChat(ctx context.Context, chatID string) (store.Chat, error)
	IsChatParticipant(ctx context.Context, chatID, userID string) (bool, error)
	CreateMessage(ctx context.Context, chatID, senderID, content string, fileURL, noteID *string) (store.Message, error)
	GetUserName(ctx context.Context, userID string) (string, error)
}

type Handler struct {
	Registry *realtime.Registry
	Store    Store
	Bus      *event.Bus
	Tokens   auth.Manager

	upgrader websocket.Upgrader
}

func NewHandler(registry *realtime.Registry, st Store, bus *event.Bus, tokens auth.Manager) *Handler {
	return &Handler{
		Registry: registry,
		Store:    st,
		Bus:      bus,
		Tokens:   tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type inboundFrame struct {
	Type    string  `json:"type"`
	ChatID  string  `json:"chat_id"`
	Content string  `json:"content"`
	FileURL *string `json:"file_url,omitempty"`
	NoteID  *string `json:"note_id,omitempty"`
}

// ServeHTTP authenticates and upgrades the request, then runs the read loop
// until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	claims, err := h.Tokens.Parse(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := realtime.NewSession(claims.Subject, conn)
	h.Registry.Connect(sess)
	defer func() {
		h.Registry.Disconnect(sess)
		sess.Close(websocket.CloseNormalClosure, "")
	}()

	h.readLoop(r.Context(), sess, conn)
}

func (h *Handler) readLoop(ctx context.Context, sess *realtime.Session, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("session %s read error: %v", sess.ID, err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(sess, "invalid frame")
			continue
		}

		switch frame.Type {
		case "join_chat":
			h.handleJoin(ctx, sess, frame.ChatID)
		case "leave_chat":
			h.Registry.Leave(sess, realtime.ChatRoom(frame.ChatID))
		case "send_message":
			h.handleSendMessage(ctx, sess, frame)
		default:
			h.sendError(sess, "unknown frame type")
		}
	}
}

func (h *Handler) handleJoin(ctx context.Context, sess *realtime.Session, chatID string) {
	if chatID == "" {
		h.sendError(sess, "chat_id is required")
		return
	}
	ok, err := h.Store.IsChatParticipant(ctx, chatID, sess.UserID)
	if err != nil {
		h.sendError(sess, "could not verify chat membership")
		return
	}
	if !ok {
		h.sendError(sess, "not a participant of this chat")
		return
	}
	h.Registry.Join(sess, realtime.ChatRoom(chatID))
}

// handleSendMessage validates, persists and only then broadcasts. The room
// broadcast and the notification fan-out both happen after the message row
// exists.
func (h *Handler) handleSendMessage(ctx context.Context, sess *realtime.Session, frame inboundFrame) {
	if frame.ChatID == "" {
		h.sendError(sess, "chat_id is required")
		return
	}
	if frame.Content == "" && frame.FileURL == nil && frame.NoteID == nil {
		h.sendError(sess, "message is empty")
		return
	}

	chat, err := h.Store.GetChat(ctx, frame.ChatID)
	if err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			h.sendError(sess, "chat not found")
			return
		}
		h.sendError(sess, "could not load chat")
		return
	}
	member, err := h.Store.IsChatParticipant(ctx, frame.ChatID, sess.UserID)
	if err != nil {
		h.sendError(sess, "could not verify chat membership")
		return
	}
	if !member {
		h.sendError(sess, "not a participant of this chat")
		return
	}

	msg, err := h.Store.CreateMessage(ctx, frame.ChatID, sess.UserID, frame.Content, frame.FileURL, frame.NoteID)
	if err != nil {
		h.sendError(sess, "could not store message")
		return
	}

	h.Registry.Push(realtime.ChatRoom(frame.ChatID), "new_message", msg)

	senderName, err := h.Store.GetUserName(ctx, sess.UserID)
	if err != nil {
		senderName = "Someone"
	}
	h.Bus.Publish(ctx, event.MessageSent{
		ChatID:     chat.ID,
		SenderID:   sess.UserID,
		SenderName: senderName,
		ChatName:   chat.Name,
		Group:      chat.IsGroup,
	})
}

func (h *Handler) sendError(sess *realtime.Session, msg string) {
	data, err := json.Marshal(realtime.Frame{Event: "error", Data: map[string]string{"message": msg}})
	if err != nil {
		return
	}
	_ = sess.Send(data)
}
