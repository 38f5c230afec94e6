package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var ErrSessionClosed = errors.New("session closed")

// Session is one live connection of an authenticated user. Outbound writes
// go through a buffered channel so pushes never block the caller; the write
// pump owns the websocket. A user may hold several sessions at once.
type Session struct {
	ID     string
	UserID string

	ws   *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func NewSession(userID string, ws *websocket.Conn) *Session {
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, 128),
		done:   make(chan struct{}),
	}
}

// Send enqueues payload for delivery. A slow client whose buffer fills up is
// disconnected to keep backpressure bounded.
func (s *Session) Send(payload []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.send <- payload:
		return nil
	default:
		s.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("session buffer exceeded")
	}
}

// Close terminates the session and stops the write pump. Safe to call more
// than once.
func (s *Session) Close(code int, reason string) {
	s.once.Do(func() {
		close(s.done)
		if s.ws == nil {
			return
		}
		_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = s.ws.Close()
	})
}

func (s *Session) start() {
	if s.ws == nil {
		return
	}
	go s.writePump()
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) write(messageType int, payload []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(messageType, payload)
}
