// Package event carries domain actions from their HTTP or websocket
// producers to the notification dispatcher without the producers knowing
// who gets notified.
package event

// Kind identifies a domain event variant.
type Kind int

const (
	KindMessageSent Kind = iota + 1
	KindFriendRequestCreated
	KindFriendRequestAccepted
	KindChatCreated
	KindEventCreated
	KindResourceAdded
	KindThreadCommentCreated
)

func (k Kind) String() string {
	switch k {
	case KindMessageSent:
		return "message_sent"
	case KindFriendRequestCreated:
		return "friend_request_created"
	case KindFriendRequestAccepted:
		return "friend_request_accepted"
	case KindChatCreated:
		return "chat_created"
	case KindEventCreated:
		return "event_created"
	case KindResourceAdded:
		return "resource_added"
	case KindThreadCommentCreated:
		return "thread_comment_created"
	default:
		return "unknown"
	}
}

// Event is implemented by every domain event payload.
type Event interface {
	Kind() Kind
}

type MessageSent struct {
	ChatID     string
	SenderID   string
	SenderName string
	ChatName   string
	Group      bool
}

func (MessageSent) Kind() Kind { return KindMessageSent }

type FriendRequestCreated struct {
	RequestID  string
	FromUserID string
	ToUserID   string
}

func (FriendRequestCreated) Kind() Kind { return KindFriendRequestCreated }

type FriendRequestAccepted struct {
	RequesterID string
	AccepterID  string
}

func (FriendRequestAccepted) Kind() Kind { return KindFriendRequestAccepted }

// ChatSummary is the chat object pushed live to participants of a newly
// created chat. It is never persisted as a notification.
type ChatSummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Group          bool     `json:"is_group"`
	ParticipantIDs []string `json:"participant_ids"`
}

type ChatCreated struct {
	CreatorID string
	Chat      ChatSummary
}

func (ChatCreated) Kind() Kind { return KindChatCreated }

type EventCreated struct {
	EventID        string
	CreatorID      string
	Title          string
	Date           string // YYYY-MM-DD
	StartTime      string // HH:MM
	ParticipantIDs []string
}

func (EventCreated) Kind() Kind { return KindEventCreated }

type ResourceAdded struct {
	ResourceID  string
	CommunityID string
	AuthorID    string
	Title       string
}

func (ResourceAdded) Kind() Kind { return KindResourceAdded }

type ThreadCommentCreated struct {
	ThreadID    string
	CommenterID string
}

func (ThreadCommentCreated) Kind() Kind { return KindThreadCommentCreated }
