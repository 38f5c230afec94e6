package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/campushub/backend/internal/platform/metrics"
)

var sessionsActive = metrics.NewGauge(metrics.Opts{
	Name: "realtime_sessions_active",
	Help: "Live websocket sessions currently attached.",
})

func init() {
	metrics.Default.MustRegister(sessionsActive)
}

// Frame is the envelope for everything pushed to a client.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Registry owns the mapping between users, their live sessions and the rooms
// each session has joined. It is the only holder of this state; nothing here
// is persisted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // session id -> session
	byUser   map[string]map[string]*Session // user id -> session id -> session
	rooms    map[string]map[string]*Session // room -> session id -> session
	joined   map[string]map[string]struct{} // session id -> joined rooms
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		joined:   make(map[string]map[string]struct{}),
	}
}

// Connect registers the session and auto-joins the user's personal room.
func (r *Registry) Connect(sess *Session) {
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	userSessions := r.byUser[sess.UserID]
	if userSessions == nil {
		userSessions = make(map[string]*Session)
		r.byUser[sess.UserID] = userSessions
	}
	userSessions[sess.ID] = sess
	r.joined[sess.ID] = make(map[string]struct{})
	r.joinLocked(sess, UserRoom(sess.UserID))
	r.mu.Unlock()

	sessionsActive.Inc()
	sess.start()
}

// Join adds the session to a room. Joining a room already joined is a no-op,
// so a double join never duplicates delivery.
func (r *Registry) Join(sess *Session, room string) {
	r.mu.Lock()
	if _, ok := r.sessions[sess.ID]; ok {
		r.joinLocked(sess, room)
	}
	r.mu.Unlock()
}

// Leave removes the session from a room.
func (r *Registry) Leave(sess *Session, room string) {
	r.mu.Lock()
	r.leaveLocked(sess.ID, room)
	r.mu.Unlock()
}

// Disconnect removes the session from every room and forgets it. The user's
// personal room membership is recreated on the next Connect.
func (r *Registry) Disconnect(sess *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[sess.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sess.ID)
	if userSessions, ok := r.byUser[sess.UserID]; ok {
		delete(userSessions, sess.ID)
		if len(userSessions) == 0 {
			delete(r.byUser, sess.UserID)
		}
	}
	for room := range r.joined[sess.ID] {
		r.leaveLocked(sess.ID, room)
	}
	delete(r.joined, sess.ID)
	r.mu.Unlock()

	sessionsActive.Dec()
}

// MembersOf maps the sessions joined to a room back to their owning users.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var users []string
	for _, sess := range r.rooms[room] {
		if _, ok := seen[sess.UserID]; ok {
			continue
		}
		seen[sess.UserID] = struct{}{}
		users = append(users, sess.UserID)
	}
	return users
}

// Push delivers a named event to every session in the room, fire-and-forget.
// An empty room absorbs the push. Returns the number of sessions reached.
func (r *Registry) Push(room, eventName string, payload any) int {
	data, err := json.Marshal(Frame{Event: eventName, Data: payload})
	if err != nil {
		log.Printf("push encode failed for %s: %v", eventName, err)
		return 0
	}

	r.mu.RLock()
	members := make([]*Session, 0, len(r.rooms[room]))
	for _, sess := range r.rooms[room] {
		members = append(members, sess)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sess := range members {
		if err := sess.Send(data); err == nil {
			delivered++
		}
	}
	return delivered
}

// Close terminates every tracked session and resets the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.byUser = make(map[string]map[string]*Session)
	r.rooms = make(map[string]map[string]*Session)
	r.joined = make(map[string]map[string]struct{})
	r.mu.Unlock()

	sessionsActive.Set(0)
	for _, sess := range sessions {
		sess.Close(1001, "server shutdown")
	}
}

func (r *Registry) joinLocked(sess *Session, room string) {
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Session)
		r.rooms[room] = members
	}
	members[sess.ID] = sess

	joined := r.joined[sess.ID]
	if joined == nil {
		joined = make(map[string]struct{})
		r.joined[sess.ID] = joined
	}
	joined[room] = struct{}{}
}

func (r *Registry) leaveLocked(sessionID, room string) {
	members := r.rooms[room]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if joined, ok := r.joined[sessionID]; ok {
		delete(joined, room)
	}
}
