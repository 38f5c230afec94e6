package realtime

import (
	"encoding/json"
	"testing"
)

func drain(t *testing.T, sess *Session) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case data := <-sess.send:
			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("invalid frame: %v", err)
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestConnect_AutoJoinsUserRoom(t *testing.T) {
	r := NewRegistry()
	sess := NewSession("user-1", nil)
	r.Connect(sess)

	if got := r.Push(UserRoom("user-1"), "notification", map[string]string{"id": "n-1"}); got != 1 {
		t.Fatalf("expected delivery to 1 session, got %d", got)
	}
	frames := drain(t, sess)
	if len(frames) != 1 || frames[0].Event != "notification" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestJoin_TwiceDeliversOneCopy(t *testing.T) {
	r := NewRegistry()
	sess := NewSession("user-1", nil)
	r.Connect(sess)

	r.Join(sess, ChatRoom("c-1"))
	r.Join(sess, ChatRoom("c-1"))

	if got := r.Push(ChatRoom("c-1"), "new_message", nil); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	if frames := drain(t, sess); len(frames) != 1 {
		t.Fatalf("expected exactly one copy, got %d", len(frames))
	}
}

func TestPush_EmptyRoomIsAbsorbed(t *testing.T) {
	r := NewRegistry()
	if got := r.Push(UserRoom("ghost"), "notification", nil); got != 0 {
		t.Fatalf("expected 0 deliveries, got %d", got)
	}
}

func TestMembersOf_ResolvesOwningUsers(t *testing.T) {
	r := NewRegistry()
	a1 := NewSession("user-a", nil)
	a2 := NewSession("user-a", nil)
	b := NewSession("user-b", nil)
	for _, sess := range []*Session{a1, a2, b} {
		r.Connect(sess)
		r.Join(sess, ChatRoom("c-1"))
	}

	members := r.MembersOf(ChatRoom("c-1"))
	if len(members) != 2 {
		t.Fatalf("expected 2 distinct users, got %v", members)
	}
	seen := map[string]bool{}
	for _, id := range members {
		seen[id] = true
	}
	if !seen["user-a"] || !seen["user-b"] {
		t.Fatalf("unexpected members: %v", members)
	}
}

func TestDisconnect_RemovesAllMemberships(t *testing.T) {
	r := NewRegistry()
	sess := NewSession("user-1", nil)
	r.Connect(sess)
	r.Join(sess, ChatRoom("c-1"))

	r.Disconnect(sess)

	if got := r.Push(UserRoom("user-1"), "notification", nil); got != 0 {
		t.Fatalf("user room should be empty after disconnect, delivered %d", got)
	}
	if got := r.Push(ChatRoom("c-1"), "new_message", nil); got != 0 {
		t.Fatalf("chat room should be empty after disconnect, delivered %d", got)
	}
	if members := r.MembersOf(ChatRoom("c-1")); len(members) != 0 {
		t.Fatalf("expected no members, got %v", members)
	}
}

func TestReconnect_AddressableAgainWithoutDuplicates(t *testing.T) {
	r := NewRegistry()
	first := NewSession("user-1", nil)
	r.Connect(first)
	r.Disconnect(first)

	second := NewSession("user-1", nil)
	r.Connect(second)

	if got := r.Push(UserRoom("user-1"), "notification", nil); got != 1 {
		t.Fatalf("expected exactly 1 delivery after reconnect, got %d", got)
	}
	if frames := drain(t, first); len(frames) != 0 {
		t.Fatalf("stale session received frames: %+v", frames)
	}
	if frames := drain(t, second); len(frames) != 1 {
		t.Fatalf("expected one frame on new session, got %d", len(frames))
	}
}

func TestLeave_StopsChatDeliveryButKeepsUserRoom(t *testing.T) {
	r := NewRegistry()
	sess := NewSession("user-1", nil)
	r.Connect(sess)
	r.Join(sess, ChatRoom("c-1"))
	r.Leave(sess, ChatRoom("c-1"))

	if got := r.Push(ChatRoom("c-1"), "new_message", nil); got != 0 {
		t.Fatalf("expected 0 chat deliveries after leave, got %d", got)
	}
	if got := r.Push(UserRoom("user-1"), "notification", nil); got != 1 {
		t.Fatalf("user room delivery broken after leave, got %d", got)
	}
}
