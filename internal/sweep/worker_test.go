package sweep

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/campushub/backend/internal/realtime"
	"github.com/campushub/backend/internal/store"
)

type fakeSweepStore struct {
	rows       []store.ScheduledNotification
	sent       map[string]bool
	created    []store.Notification
	failCreate map[string]error
	findErr    error
}

func newFakeSweepStore() *fakeSweepStore {
	return &fakeSweepStore{
		sent:       map[string]bool{},
		failCreate: map[string]error{},
	}
}

func (f *fakeSweepStore) FindDueScheduledNotifications(_ context.Context, now time.Time) ([]store.ScheduledNotification, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	var due []store.ScheduledNotification
	for _, sn := range f.rows {
		if !f.sent[sn.ID] && !sn.ScheduledFor.After(now) {
			due = append(due, sn)
		}
	}
	return due, nil
}

func (f *fakeSweepStore) ClaimScheduledSent(_ context.Context, scheduledID string) (bool, error) {
	if f.sent[scheduledID] {
		return false, nil
	}
	f.sent[scheduledID] = true
	return true, nil
}

func (f *fakeSweepStore) CreateNotification(_ context.Context, userID, message, notifType string) (store.Notification, error) {
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
	return n, nil
}

type fakePusher struct {
	pushes []string // room:event
}

func (f *fakePusher) Push(room, eventName string, _ any) int {
	f.pushes = append(f.pushes, room+":"+eventName)
	return 1
}

func TestTick_DeliversDueRowExactlyOnce(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	st := newFakeSweepStore()
	st.rows = []store.ScheduledNotification{{
		ID:           "s-1",
		UserID:       "user-1",
		Message:      `Reminder: you have the event "Exam" on 2026-08-30 at 13:00.`,
		Type:         "EVENT",
		ScheduledFor: now.Add(-time.Minute),
	}}
	pusher := &fakePusher{}
	w := NewWorker(st, pusher)

	delivered, err := w.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if len(st.created) != 1 || st.created[0].UserID != "user-1" {
		t.Fatalf("unexpected notifications: %+v", st.created)
	}
	if !st.sent["s-1"] {
		t.Fatal("row was not marked sent")
	}
	if len(pusher.pushes) != 1 || pusher.pushes[0] != realtime.UserRoom("user-1")+":notification" {
		t.Fatalf("unexpected pushes: %v", pusher.pushes)
	}

	// Second tick: the row is excluded by the sent filter.
	delivered, err = w.Tick(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second Tick returned error: %v", err)
	}
	if delivered != 0 || len(st.created) != 1 {
		t.Fatalf("second tick must be a no-op, delivered=%d created=%d", delivered, len(st.created))
	}
}

func TestTick_FutureRowIsNotTouched(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	st := newFakeSweepStore()
	st.rows = []store.ScheduledNotification{{
		ID:           "s-1",
		UserID:       "user-1",
		ScheduledFor: now.Add(time.Hour),
	}}
	w := NewWorker(st, &fakePusher{})

	delivered, err := w.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if delivered != 0 || len(st.created) != 0 || st.sent["s-1"] {
		t.Fatal("future row must stay pending")
	}
}

func TestTick_RowFailureIsIsolated(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	st := newFakeSweepStore()
	st.rows = []store.ScheduledNotification{
		{ID: "s-1", UserID: "user-1", ScheduledFor: now.Add(-time.Minute)},
		{ID: "s-2", UserID: "user-2", ScheduledFor: now.Add(-time.Minute)},
	}
	st.failCreate["user-1"] = errors.New("store unavailable")
	w := NewWorker(st, &fakePusher{})

	delivered, err := w.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected the second row to be delivered, got %d", delivered)
	}
	if len(st.created) != 1 || st.created[0].UserID != "user-2" {
		t.Fatalf("unexpected notifications: %+v", st.created)
	}
}

func TestTick_LostClaimIsSkippedSilently(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	st := newFakeSweepStore()
	st.rows = []store.ScheduledNotification{{ID: "s-1", UserID: "user-1", ScheduledFor: now.Add(-time.Minute)}}
	st.sent["s-1"] = true // another sweeper already claimed it
	pusher := &fakePusher{}
	w := NewWorker(st, pusher)

	// Force the row through FindDue by querying the unclaimed copy directly.
	due := []store.ScheduledNotification{st.rows[0]}
	for _, sn := range due {
		ok, err := w.process(context.Background(), sn)
		if err != nil {
			t.Fatalf("process returned error: %v", err)
		}
		if ok {
			t.Fatal("lost claim must not count as delivered")
		}
	}
	if len(st.created) != 0 || len(pusher.pushes) != 0 {
		t.Fatal("lost claim must not create or push anything")
	}
}

func TestTick_FindErrorAbortsTick(t *testing.T) {
	st := newFakeSweepStore()
	st.findErr = errors.New("connection refused")
	w := NewWorker(st, &fakePusher{})

	if _, err := w.Tick(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error when the due query fails")
	}
}
