package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/campushub/backend/internal/event"
	"github.com/campushub/backend/internal/realtime"
	"github.com/campushub/backend/internal/store"
)

type recordedPush struct {
	room    string
	event   string
	payload any
}

type fakeStore struct {
	chatParticipants   map[string][]string
	communityMembers   map[string][]string
	threadParticipants map[string][]string
	names              map[string]string
	communityNames     map[string]string
	threads            map[string]store.Thread

	created    []store.Notification
	failCreate map[string]error
	ops        *[]string
}

func (f *fakeStore) CreateNotification(_ context.Context, userID, message, notifType string) (store.Notification, error) {
	if err := f.failCreate[userID]; err != nil {
		return store.Notification{}, err
	}
	n := store.Notification{
		ID:      fmt.Sprintf("n-%d", len(f.created)+1),
		UserID:  userID,
		Message: message,
		Type:    notifType,
	}
	f.created = append(f.created, n)
	if f.ops != nil {
		*f.ops = append(*f.ops, "persist:"+userID)
	}
	return n, nil
}

func (f *fakeStore) FindChatParticipants(_ context.Context, chatID string) ([]string, error) {
	return f.chatParticipants[chatID], nil
}

func (f *fakeStore) FindCommunityMembers(_ context.Context, communityID string) ([]string, error) {
	return f.communityMembers[communityID], nil
}

func (f *fakeStore) FindThreadParticipantIDs(_ context.Context, threadID string) ([]string, error) {
	return f.threadParticipants[threadID], nil
}

func (f *fakeStore) GetUserName(_ context.Context, userID string) (string, error) {
	if name, ok := f.names[userID]; ok {
		return name, nil
	}
	return "Someone", nil
}

func (f *fakeStore) GetCommunityName(_ context.Context, communityID string) (string, error) {
	return f.communityNames[communityID], nil
}

func (f *fakeStore) GetThread(_ context.Context, threadID string) (store.Thread, error) {
	t, ok := f.threads[threadID]
	if !ok {
		return store.Thread{}, store.ErrThreadNotFound
	}
	return t, nil
}

type fakeLive struct {
	present map[string][]string
	pushes  []recordedPush
	ops     *[]string
}

func (f *fakeLive) Push(room, eventName string, payload any) int {
	f.pushes = append(f.pushes, recordedPush{room: room, event: eventName, payload: payload})
	if f.ops != nil {
		*f.ops = append(*f.ops, "push:"+room+":"+eventName)
	}
	return len(f.present[room])
}

func (f *fakeLive) MembersOf(room string) []string {
	return f.present[room]
}

func newFakes() (*fakeStore, *fakeLive) {
	ops := &[]string{}
	st := &fakeStore{
		chatParticipants:   map[string][]string{},
		communityMembers:   map[string][]string{},
		threadParticipants: map[string][]string{},
		names:              map[string]string{},
		communityNames:     map[string]string{},
		threads:            map[string]store.Thread{},
		failCreate:         map[string]error{},
		ops:                ops,
	}
	live := &fakeLive{present: map[string][]string{}, ops: ops}
	return st, live
}

func TestMessageSent_SkipsSenderAndViewers(t *testing.T) {
	st, live := newFakes()
	st.chatParticipants["c-1"] = []string{"user-a", "user-b", "user-d"}
	live.present[realtime.ChatRoom("c-1")] = []string{"user-b"}

	d := New(st, live)
	err := d.onMessageSent(context.Background(), event.MessageSent{
		ChatID:     "c-1",
		SenderID:   "user-a",
		SenderName: "Alice",
	})
	if err != nil {
		t.Fatalf("onMessageSent returned error: %v", err)
	}

	if len(st.created) != 1 || st.created[0].UserID != "user-d" {
		t.Fatalf("expected one notification for user-d, got %+v", st.created)
	}
	if st.created[0].Message != "New message from Alice" || st.created[0].Type != TypeChat {
		t.Fatalf("unexpected notification: %+v", st.created[0])
	}
	if len(live.pushes) != 1 || live.pushes[0].room != realtime.UserRoom("user-d") {
		t.Fatalf("unexpected pushes: %+v", live.pushes)
	}
}

func TestMessageSent_GroupChatText(t *testing.T) {
	st, live := newFakes()
	st.chatParticipants["c-2"] = []string{"user-a", "user-b"}

	d := New(st, live)
	err := d.onMessageSent(context.Background(), event.MessageSent{
		ChatID:     "c-2",
		SenderID:   "user-a",
		SenderName: "Alice",
		ChatName:   "Study Group",
		Group:      true,
	})
	if err != nil {
		t.Fatalf("onMessageSent returned error: %v", err)
	}

	if len(st.created) != 1 || st.created[0].Message != `New message in group "Study Group"` {
		t.Fatalf("unexpected notifications: %+v", st.created)
	}
}

func TestNotifyEach_PersistsBeforePush(t *testing.T) {
	st, live := newFakes()
	st.chatParticipants["c-1"] = []string{"user-a", "user-b", "user-c"}

	d := New(st, live)
	err := d.onMessageSent(context.Background(), event.MessageSent{
		ChatID: "c-1", SenderID: "user-a", SenderName: "Alice",
	})
	if err != nil {
		t.Fatalf("onMessageSent returned error: %v", err)
	}

	ops := *st.ops
	if len(ops) != 4 {
		t.Fatalf("unexpected op count: %v", ops)
	}
	for i := 0; i < len(ops); i += 2 {
		if !strings.HasPrefix(ops[i], "persist:") || !strings.HasPrefix(ops[i+1], "push:") {
			t.Fatalf("push before persist in op sequence: %v", ops)
		}
		userID := strings.TrimPrefix(ops[i], "persist:")
		if ops[i+1] != "push:"+realtime.UserRoom(userID)+":notification" {
			t.Fatalf("push does not follow its own persist: %v", ops)
		}
	}
}

func TestNotifyEach_FailureForOneRecipientIsIsolated(t *testing.T) {
	st, live := newFakes()
	st.chatParticipants["c-1"] = []string{"user-a", "user-b", "user-c"}
	st.failCreate["user-b"] = errors.New("store unavailable")

	d := New(st, live)
	err := d.onMessageSent(context.Background(), event.MessageSent{
		ChatID: "c-1", SenderID: "user-a", SenderName: "Alice",
	})
	if err != nil {
		t.Fatalf("onMessageSent returned error: %v", err)
	}

	if len(st.created) != 1 || st.created[0].UserID != "user-c" {
		t.Fatalf("expected fan-out to continue with user-c, got %+v", st.created)
	}
	for _, p := range live.pushes {
		if p.room == realtime.UserRoom("user-b") {
			t.Fatalf("pushed to a recipient whose row was never persisted: %+v", p)
		}
	}
}

func TestChatCreated_PushesWithoutPersisting(t *testing.T) {
	st, live := newFakes()
	d := New(st, live)

	chat := event.ChatSummary{ID: "c-9", Group: true, Name: "Project", ParticipantIDs: []string{"user-a", "user-b", "user-c"}}
	err := d.onChatCreated(context.Background(), event.ChatCreated{CreatorID: "user-a", Chat: chat})
	if err != nil {
		t.Fatalf("onChatCreated returned error: %v", err)
	}

	if len(st.created) != 0 {
		t.Fatalf("chat creation must not persist notifications, got %+v", st.created)
	}
	if len(live.pushes) != 2 {
		t.Fatalf("expected pushes to 2 participants, got %+v", live.pushes)
	}
	for _, p := range live.pushes {
		if p.room == realtime.UserRoom("user-a") {
			t.Fatalf("creator must not be pushed: %+v", p)
		}
		if p.event != "chat_created" {
			t.Fatalf("unexpected event name: %+v", p)
		}
	}
}

func TestFriendRequestCreated_NotifiesTarget(t *testing.T) {
	st, live := newFakes()
	st.names["user-a"] = "Alice"

	d := New(st, live)
	err := d.onFriendRequestCreated(context.Background(), event.FriendRequestCreated{
		RequestID: "fr-1", FromUserID: "user-a", ToUserID: "user-b",
	})
	if err != nil {
		t.Fatalf("onFriendRequestCreated returned error: %v", err)
	}

	if len(st.created) != 1 || st.created[0].UserID != "user-b" || st.created[0].Type != TypeFriend {
		t.Fatalf("unexpected notifications: %+v", st.created)
	}
	if st.created[0].Message != "Alice sent you a friend request." {
		t.Fatalf("unexpected message: %q", st.created[0].Message)
	}

	var sawRequestEvent bool
	for _, p := range live.pushes {
		if p.event == "friend_request" && p.room == realtime.UserRoom("user-b") {
			sawRequestEvent = true
			payload := p.payload.(map[string]string)
			if payload["from_user_name"] != "Alice" || payload["request_id"] != "fr-1" {
				t.Fatalf("unexpected friend_request payload: %+v", payload)
			}
		}
	}
	if !sawRequestEvent {
		t.Fatalf("friend_request event not pushed: %+v", live.pushes)
	}
}

func TestFriendRequestAccepted_NotifiesRequester(t *testing.T) {
	st, live := newFakes()
	st.names["user-b"] = "Bob"

	d := New(st, live)
	err := d.onFriendRequestAccepted(context.Background(), event.FriendRequestAccepted{
		RequesterID: "user-a", AccepterID: "user-b",
	})
	if err != nil {
		t.Fatalf("onFriendRequestAccepted returned error: %v", err)
	}

	if len(st.created) != 1 || st.created[0].UserID != "user-a" {
		t.Fatalf("unexpected notifications: %+v", st.created)
	}
	if st.created[0].Message != "Bob accepted your friend request." {
		t.Fatalf("unexpected message: %q", st.created[0].Message)
	}
}

func TestEventCreated_NotifiesParticipantsExceptCreator(t *testing.T) {
	st, live := newFakes()
	st.names["user-a"] = "Alice"

	d := New(st, live)
	err := d.onEventCreated(context.Background(), event.EventCreated{
		EventID:        "ev-1",
		CreatorID:      "user-a",
		Title:          "Exam prep",
		Date:           "2026-09-15",
		StartTime:      "18:00",
		ParticipantIDs: []string{"user-a", "user-b", "user-c"},
	})
	if err != nil {
		t.Fatalf("onEventCreated returned error: %v", err)
	}

	if len(st.created) != 2 {
		t.Fatalf("expected 2 notifications, got %+v", st.created)
	}
	want := `Alice invited you to the event "Exam prep" on 2026-09-15 at 18:00.`
	for _, n := range st.created {
		if n.UserID == "user-a" {
			t.Fatalf("creator must not be notified: %+v", n)
		}
		if n.Message != want || n.Type != TypeEvent {
			t.Fatalf("unexpected notification: %+v", n)
		}
	}
}

func TestResourceAdded_NotifiesCommunityExceptAuthor(t *testing.T) {
	st, live := newFakes()
	st.names["user-a"] = "Alice"
	st.communityNames["com-1"] = "Go Study Circle"
	st.communityMembers["com-1"] = []string{"user-a", "user-b"}

	d := New(st, live)
	err := d.onResourceAdded(context.Background(), event.ResourceAdded{
		ResourceID: "r-1", CommunityID: "com-1", AuthorID: "user-a", Title: "Effective Go",
	})
	if err != nil {
		t.Fatalf("onResourceAdded returned error: %v", err)
	}

	if len(st.created) != 1 || st.created[0].UserID != "user-b" || st.created[0].Type != TypeResource {
		t.Fatalf("unexpected notifications: %+v", st.created)
	}
	if st.created[0].Message != `Alice added a resource "Effective Go" in the community Go Study Circle.` {
		t.Fatalf("unexpected message: %q", st.created[0].Message)
	}
}

func TestThreadCommentCreated_NotifiesPriorParticipants(t *testing.T) {
	st, live := newFakes()
	st.names["user-c"] = "Carol"
	st.threads["t-1"] = store.Thread{ID: "t-1", AuthorID: "user-a", Title: "Homework 3"}
	st.threadParticipants["t-1"] = []string{"user-a", "user-b", "user-c"}

	d := New(st, live)
	err := d.onThreadCommentCreated(context.Background(), event.ThreadCommentCreated{
		ThreadID: "t-1", CommenterID: "user-c",
	})
	if err != nil {
		t.Fatalf("onThreadCommentCreated returned error: %v", err)
	}

	if len(st.created) != 2 {
		t.Fatalf("expected 2 notifications, got %+v", st.created)
	}
	for _, n := range st.created {
		if n.UserID == "user-c" {
			t.Fatalf("commenter must not be notified: %+v", n)
		}
		if n.Message != `Carol commented on the thread "Homework 3".` || n.Type != TypeThread {
			t.Fatalf("unexpected notification: %+v", n)
		}
	}
}

func TestRegister_RoutesThroughBus(t *testing.T) {
	st, live := newFakes()
	st.chatParticipants["c-1"] = []string{"user-a", "user-b"}

	bus := event.NewBus()
	New(st, live).Register(bus)

	bus.Publish(context.Background(), event.MessageSent{
		ChatID: "c-1", SenderID: "user-a", SenderName: "Alice",
	})

	if len(st.created) != 1 || st.created[0].UserID != "user-b" {
		t.Fatalf("bus did not reach the dispatcher: %+v", st.created)
	}
}
