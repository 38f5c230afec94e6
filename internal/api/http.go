// Package api is the HTTP surface: auth, notification management and the
// domain actions that produce events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/campushub/backend/internal/event"
	"github.com/campushub/backend/internal/identity"
	"github.com/campushub/backend/internal/platform/auth"
	"github.com/campushub/backend/internal/platform/metrics"
	"github.com/campushub/backend/internal/store"
	"github.com/go-chi/chi/v5"
)

const defaultReminderMinutes = 1440

// Store is the slice of the durable store the handlers depend on.
type Store interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) error
	DeleteNotification(ctx context.Context, notificationID, userID string) error
	CreateChat(ctx context.Context, name string, isGroup bool, participantIDs []string) (store.Chat, error)
	CreateFriendRequest(ctx context.Context, requesterID, targetID string) (store.FriendRequest, error)
	AcceptFriendRequest(ctx context.Context, requestID, accepterID string) (string, error)
	CreateCalendarEvent(ctx context.Context, ev store.CalendarEvent) (store.CalendarEvent, error)
	CreateScheduledNotifications(ctx context.Context, userIDs []string, message, notifType string, scheduledFor time.Time) error
	GetCommunityName(ctx context.Context, communityID string) (string, error)
	CreateResource(ctx context.Context, communityID, authorID, title, url string) (store.Resource, error)
	GetThread(ctx context.Context, threadID string) (store.Thread, error)
	CreateThreadComment(ctx context.Context, threadID, authorID, content string) (string, error)
}

type Handler struct {
	Identity *identity.Service
	Store    Store
	Bus      *event.Bus

	// Ready reports whether the durable store is reachable. Nil means
	// always ready.
	Ready func(ctx context.Context) error
}

func NewHandler(identitySvc *identity.Service, st Store, bus *event.Bus) *Handler {
	return &Handler{Identity: identitySvc, Store: st, Bus: bus}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	r.Handle("/metrics", metrics.DefaultHandler())

	r.Post("/api/v1/auth/register", h.handleRegister)
	r.Post("/api/v1/auth/login", h.handleLogin)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Get("/api/v1/notifications", h.handleListNotifications)
		authR.Patch("/api/v1/notifications/{notificationID}/read", h.handleMarkNotificationRead)
		authR.Delete("/api/v1/notifications/{notificationID}", h.handleDeleteNotification)
		authR.Post("/api/v1/chats", h.handleCreateChat)
		authR.Post("/api/v1/friends/requests", h.handleCreateFriendRequest)
		authR.Post("/api/v1/friends/requests/{requestID}/accept", h.handleAcceptFriendRequest)
		authR.Post("/api/v1/events", h.handleCreateEvent)
		authR.Post("/api/v1/communities/{communityID}/resources", h.handleCreateResource)
		authR.Post("/api/v1/threads/{threadID}/comments", h.handleCreateThreadComment)
	})

	return r
}

type credentialsRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type createChatRequest struct {
	Name           string   `json:"name"`
	IsGroup        bool     `json:"is_group"`
	ParticipantIDs []string `json:"participant_ids"`
}

type createFriendRequestRequest struct {
	TargetUserID string `json:"target_user_id"`
}

type createEventRequest struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Date            string   `json:"date"`       // YYYY-MM-DD
	StartTime       string   `json:"start_time"` // HH:MM
	EndTime         string   `json:"end_time"`
	ReminderMinutes *int     `json:"reminder_minutes"`
	ParticipantIDs  []string `json:"participant_ids"`
}

type createResourceRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type createThreadCommentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Register(r.Context(), req.Username, req.DisplayName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidUsername), errors.Is(err, identity.ErrInvalidPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrUsernameTaken):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	notifications, err := h.Store.ListNotifications(r.Context(), claims.Subject, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, notifications)
}

func (h *Handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	err := h.Store.MarkNotificationRead(r.Context(), chi.URLParam(r, "notificationID"), claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotificationNotFound) {
			h.writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	err := h.Store.DeleteNotification(r.Context(), chi.URLParam(r, "notificationID"), claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotificationNotFound) {
			h.writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())

	participants := appendMissing(req.ParticipantIDs, claims.Subject)
	if len(participants) < 2 {
		h.writeError(w, http.StatusBadRequest, "a chat needs at least two participants")
		return
	}

	chat, err := h.Store.CreateChat(r.Context(), strings.TrimSpace(req.Name), req.IsGroup, participants)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Bus.Publish(r.Context(), event.ChatCreated{
		CreatorID: claims.Subject,
		Chat: event.ChatSummary{
			ID:             chat.ID,
			Name:           chat.Name,
			Group:          chat.IsGroup,
			ParticipantIDs: participants,
		},
	})
	h.writeJSON(w, http.StatusCreated, chat)
}

func (h *Handler) handleCreateFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req createFriendRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())

	targetID := strings.TrimSpace(req.TargetUserID)
	if targetID == "" {
		h.writeError(w, http.StatusBadRequest, "target_user_id is required")
		return
	}
	if targetID == claims.Subject {
		h.writeError(w, http.StatusBadRequest, "cannot send a friend request to yourself")
		return
	}

	fr, err := h.Store.CreateFriendRequest(r.Context(), claims.Subject, targetID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Bus.Publish(r.Context(), event.FriendRequestCreated{
		RequestID:  fr.ID,
		FromUserID: claims.Subject,
		ToUserID:   targetID,
	})
	h.writeJSON(w, http.StatusCreated, fr)
}

func (h *Handler) handleAcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	requesterID, err := h.Store.AcceptFriendRequest(r.Context(), chi.URLParam(r, "requestID"), claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrFriendRequestNotFound) {
			h.writeError(w, http.StatusNotFound, "friend request not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Bus.Publish(r.Context(), event.FriendRequestAccepted{
		RequesterID: requesterID,
		AccepterID:  claims.Subject,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())

	if strings.TrimSpace(req.Title) == "" || req.Date == "" || req.StartTime == "" || req.EndTime == "" {
		h.writeError(w, http.StatusBadRequest, "title, date, start_time and end_time are required")
		return
	}
	start, err := parseEventStart(req.Date, req.StartTime)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reminderMinutes := defaultReminderMinutes
	if req.ReminderMinutes != nil && *req.ReminderMinutes > 0 {
		reminderMinutes = *req.ReminderMinutes
	}

	participants := appendMissing(req.ParticipantIDs, claims.Subject)
	ev, err := h.Store.CreateCalendarEvent(r.Context(), store.CalendarEvent{
		OwnerID:         claims.Subject,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Date:            req.Date,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		ReminderMinutes: reminderMinutes,
		ParticipantIDs:  participants,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Reminders are best effort: the event exists even if scheduling fails.
	reminder := fmt.Sprintf("Reminder: you have the event %q on %s at %s.", ev.Title, ev.Date, ev.StartTime)
	scheduledFor := start.Add(-time.Duration(reminderMinutes) * time.Minute)
	if err := h.Store.CreateScheduledNotifications(r.Context(), participants, reminder, "EVENT", scheduledFor); err != nil {
		log.Printf("reminder scheduling failed for event %s: %v", ev.ID, err)
	}

	h.Bus.Publish(r.Context(), event.EventCreated{
		EventID:        ev.ID,
		CreatorID:      claims.Subject,
		Title:          ev.Title,
		Date:           ev.Date,
		StartTime:      ev.StartTime,
		ParticipantIDs: participants,
	})
	h.writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	communityID := chi.URLParam(r, "communityID")

	if strings.TrimSpace(req.Title) == "" {
		h.writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if _, err := h.Store.GetCommunityName(r.Context(), communityID); err != nil {
		if errors.Is(err, store.ErrCommunityNotFound) {
			h.writeError(w, http.StatusNotFound, "community not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	res, err := h.Store.CreateResource(r.Context(), communityID, claims.Subject, strings.TrimSpace(req.Title), req.URL)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Bus.Publish(r.Context(), event.ResourceAdded{
		ResourceID:  res.ID,
		CommunityID: communityID,
		AuthorID:    claims.Subject,
		Title:       res.Title,
	})
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleCreateThreadComment(w http.ResponseWriter, r *http.Request) {
	var req createThreadCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	threadID := chi.URLParam(r, "threadID")

	if strings.TrimSpace(req.Content) == "" {
		h.writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if _, err := h.Store.GetThread(r.Context(), threadID); err != nil {
		if errors.Is(err, store.ErrThreadNotFound) {
			h.writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	commentID, err := h.Store.CreateThreadComment(r.Context(), threadID, claims.Subject, req.Content)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Bus.Publish(r.Context(), event.ThreadCommentCreated{
		ThreadID:    threadID,
		CommenterID: claims.Subject,
	})
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": commentID})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// parseEventStart composes the wall-clock date and start time into one
// instant. Scheduling math happens on this instant, in UTC.
func parseEventStart(date, startTime string) (time.Time, error) {
	start, err := time.Parse("2006-01-02 15:04", date+" "+startTime)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD and start_time HH:MM")
	}
	return start.UTC(), nil
}

func appendMissing(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Identity.Tokens.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) auth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(auth.Claims)
	return claims
}
