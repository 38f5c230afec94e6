// Package dispatch turns domain events into durable notifications and live
// pushes. For every event kind it resolves the audience, writes one
// notification row per recipient, and only then pushes the row to the
// recipient's personal room.
package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/campushub/backend/internal/event"
	"github.com/campushub/backend/internal/platform/metrics"
	"github.com/campushub/backend/internal/realtime"
	"github.com/campushub/backend/internal/store"
	"github.com/samber/lo"
)

// Notification type tags, stored on every row.
const (
	TypeChat     = "CHAT"
	TypeFriend   = "FRIEND"
	TypeEvent    = "EVENT"
	TypeResource = "RESOURCE"
	TypeThread   = "THREAD"
)

var (
	notificationsCreatedTotal = metrics.NewCounter(metrics.Opts{
		Name: "dispatch_notifications_created_total",
		Help: "Notification rows persisted by the dispatcher.",
	})
	notificationsPushedTotal = metrics.NewCounter(metrics.Opts{
		Name: "dispatch_notifications_pushed_total",
		Help: "Notifications delivered to at least one live session.",
	})
	fanoutFailuresTotal = metrics.NewCounter(metrics.Opts{
		Name: "dispatch_fanout_failures_total",
		Help: "Per-recipient fan-out steps abandoned due to store errors.",
	})
)

func init() {
	metrics.Default.MustRegister(notificationsCreatedTotal, notificationsPushedTotal, fanoutFailuresTotal)
}

// Store is the slice of the durable store the dispatcher depends on.
type Store interface {
	CreateNotification(ctx context.Context, userID, message, notifType string) (store.Notification, error)
	FindChatParticipants(ctx context.Context, chatID string) ([]string, error)
	FindCommunityMembers(ctx context.Context, communityID string) ([]string, error)
	FindThreadParticipantIDs(ctx context.Context, threadID string) ([]string, error)
	GetUserName(ctx context.Context, userID string) (string, error)
	GetCommunityName(ctx context.Context, communityID string) (string, error)
	GetThread(ctx context.Context, threadID string) (store.Thread, error)
}

// Live is the push side of the connection registry.
type Live interface {
	Push(room, eventName string, payload any) int
	MembersOf(room string) []string
}

type Dispatcher struct {
	Store Store
	Live  Live
}

func New(st Store, live Live) *Dispatcher {
	return &Dispatcher{Store: st, Live: live}
}

// Register subscribes the dispatcher to every event kind it handles. Called
// once at startup.
func (d *Dispatcher) Register(bus *event.Bus) {
	bus.Subscribe(event.KindMessageSent, d.onMessageSent)
	bus.Subscribe(event.KindFriendRequestCreated, d.onFriendRequestCreated)
	bus.Subscribe(event.KindFriendRequestAccepted, d.onFriendRequestAccepted)
	bus.Subscribe(event.KindChatCreated, d.onChatCreated)
	bus.Subscribe(event.KindEventCreated, d.onEventCreated)
	bus.Subscribe(event.KindResourceAdded, d.onResourceAdded)
	bus.Subscribe(event.KindThreadCommentCreated, d.onThreadCommentCreated)
}

func (d *Dispatcher) onMessageSent(ctx context.Context, e event.Event) error {
	msg, ok := e.(event.MessageSent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e, e.Kind())
	}

	participants, err := d.Store.FindChatParticipants(ctx, msg.ChatID)
	if err != nil {
		return err
	}

	// Whoever is in the chat room is already seeing the message live and
	// must not get a duplicate notification for it.
	viewing := d.Live.MembersOf(realtime.ChatRoom(msg.ChatID))
	audience := lo.Without(participants, append(viewing, msg.SenderID)...)

	var text string
	if msg.Group {
		name := msg.ChatName
		if name == "" {
			name = "group"
		}
		text = fmt.Sprintf("New message in group %q", name)
	} else {
		text = "New message from " + msg.SenderName
	}

	d.notifyEach(ctx, audience, text, TypeChat)
	return nil
}

func (d *Dispatcher) onFriendRequestCreated(ctx context.Context, e event.Event) error {
	req, ok := e.(event.FriendRequestCreated)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e, e.Kind())
	}

	senderName, err := d.Store.GetUserName(ctx, req.FromUserID)
	if err != nil {
		return err
	}

	d.notifyEach(ctx, []string{req.ToUserID}, senderName+" sent you a friend request.", TypeFriend)
	d.Live.Push(realtime.UserRoom(req.ToUserID), "friend_request", map[string]string{
		"request_id":     req.RequestID,
		"from_user_id":   req.FromUserID,
		"from_user_name": senderName,
	})
	return nil
}

func (d *Dispatcher) onFriendRequestAccepted(ctx context.Context, e event.Event) error {
	acc, ok := e.(event.FriendRequestAccepted)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e, e.Kind())
	}

	accepterName, err := d.Store.GetUserName(ctx, acc.AccepterID)
	if err != nil {
		return err
	}

	d.notifyEach(ctx, []string{acc.RequesterID}, accepterName+" accepted your friend request.", TypeFriend)
	d.Live.Push(realtime.UserRoom(acc.RequesterID), "friend_request_accepted", map[string]string{
		"user_id":   acc.AccepterID,
		"user_name": accepterName,
	})
	return nil
}

// onChatCreated pushes the chat object directly to each participant's room;
// chat creation is visible in the chat list, so no notification row is kept.
func (d *Dispatcher) onChatCreated(_ context.Context, e event.Event) error {
	created, ok := e.(event.ChatCreated)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e, e.Kind())
	}

	for _, userID := range created.Chat.ParticipantIDs {
		if userID == created.CreatorID {
			continue
		}
		d.Live.Push(realtime.UserRoom(userID), "chat_created", created.Chat)
	}
	return nil
}

func (d *Dispatcher) onEventCreated(ctx context.Context, e event.Event) error {
	ev, ok := e.(event.EventCreated)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e, e.Kind())
	}

	creatorName, err := d.Store.GetUserName(ctx, ev.CreatorID)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("%s invited you to the event %q on %s", creatorName, ev.Title, ev.Date)
	if ev.StartTime != "" {
		text += " at " + ev.StartTime
	}
	text += "."

	audience := lo.Without(ev.ParticipantIDs, ev.CreatorID)
	d.notifyEach(ctx, audience, text, TypeEvent)
	return nil
}

func (d *Dispatcher) onResourceAdded(ctx context.Context, e event.Event) error {
	res, ok := e.(event.ResourceAdded)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e, e.Kind())
	}

	authorName, err := d.Store.GetUserName(ctx, res.AuthorID)
	if err != nil {
		return err
	}
	communityName, err := d.Store.GetCommunityName(ctx, res.CommunityID)
	if err != nil {
		return err
	}
	members, err := d.Store.FindCommunityMembers(ctx, res.CommunityID)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("%s added a resource %q in the community %s.", authorName, res.Title, communityName)
	audience := lo.Without(members, res.AuthorID)
	d.notifyEach(ctx, audience, text, TypeResource)
	return nil
}

func (d *Dispatcher) onThreadCommentCreated(ctx context.Context, e event.Event) error {
	tc, ok := e.(event.ThreadCommentCreated)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e, e.Kind())
	}

	thread, err := d.Store.GetThread(ctx, tc.ThreadID)
	if err != nil {
		return err
	}
	commenterName, err := d.Store.GetUserName(ctx, tc.CommenterID)
	if err != nil {
		return err
	}
	participants, err := d.Store.FindThreadParticipantIDs(ctx, tc.ThreadID)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("%s commented on the thread %q.", commenterName, thread.Title)
	audience := lo.Without(participants, tc.CommenterID)
	d.notifyEach(ctx, audience, text, TypeThread)
	return nil
}

// notifyEach persists one notification per recipient and pushes it to the
// recipient's room only after the row is durable. A store failure for one
// recipient is logged and does not stop the rest of the fan-out.
func (d *Dispatcher) notifyEach(ctx context.Context, audience []string, message, notifType string) {
	for _, userID := range lo.Uniq(audience) {
		n, err := d.Store.CreateNotification(ctx, userID, message, notifType)
		if err != nil {
			fanoutFailuresTotal.Inc()
			log.Printf("notification persist failed for user %s: %v", userID, err)
			continue
		}
		notificationsCreatedTotal.Inc()
		if d.Live.Push(realtime.UserRoom(userID), "notification", n) > 0 {
			notificationsPushedTotal.Inc()
		}
	}
}
