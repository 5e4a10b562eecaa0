package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"finitefield.org/fashion-web/internal/auth"
	"finitefield.org/fashion-web/internal/conversation"
	"finitefield.org/fashion-web/internal/format"
	"finitefield.org/fashion-web/internal/notify"
	"finitefield.org/fashion-web/internal/platform/httpx"
	"finitefield.org/fashion-web/internal/platform/observability"
	"finitefield.org/fashion-web/internal/storeapi"
)

type messageForm struct {
	Body string `json:"body"`
}

// ConversationView is a thread summary with a display date.
type ConversationView struct {
	storeapi.Conversation
	Updated string `json:"updated"`
}

func (s *server) inbox(r *http.Request, toasts *notify.Collector) *conversation.Inbox {
	user := auth.UserFromContext(r.Context())
	api := s.api
	if user != nil {
		api = api.ForToken(user.Token)
	}
	// NewInbox only fails without an API.
	inbox, _ := conversation.NewInbox(conversation.InboxDeps{
		API:      api,
		User:     user,
		Notifier: toasts,
		Logger:   observability.FromContext(r.Context()),
	})
	return inbox
}

func (s *server) conversationList(w http.ResponseWriter, r *http.Request) {
	toasts := notify.NewCollector()
	list, err := s.inbox(r, toasts).Conversations(r.Context())
	if err != nil {
		writeConversationError(w, r, toasts, err)
		return
	}
	views := make([]ConversationView, 0, len(list))
	for _, c := range list {
		views = append(views, ConversationView{Conversation: c, Updated: format.Date(c.UpdatedAt, s.cfg.Locale.Language)})
	}
	httpx.WriteJSON(w, http.StatusOK, toasts, map[string]any{"conversations": views})
}

func (s *server) messageList(w http.ResponseWriter, r *http.Request) {
	toasts := notify.NewCollector()
	list, err := s.inbox(r, toasts).Messages(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeConversationError(w, r, toasts, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toasts, map[string]any{"messages": list})
}

func (s *server) messageSend(w http.ResponseWriter, r *http.Request) {
	var form messageForm
	if !decodeJSON(w, r, &form) {
		return
	}
	toasts := notify.NewCollector()
	msg, err := s.inbox(r, toasts).Send(r.Context(), chi.URLParam(r, "conversationID"), form.Body)
	if err != nil {
		writeConversationError(w, r, toasts, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toasts, map[string]any{"message": msg})
}

func writeConversationError(w http.ResponseWriter, r *http.Request, toasts *notify.Collector, err error) {
	switch {
	case errors.Is(err, conversation.ErrUnauthenticated):
		writeSignInRequired(w, r, toasts)
	case errors.Is(err, conversation.ErrEmptyBody), errors.Is(err, conversation.ErrBodyTooLong):
		httpx.WriteError(r.Context(), w, toasts,
			httpx.NewError("invalid_message", "message body is invalid", http.StatusUnprocessableEntity).WithField("body", "invalid"))
	case errors.Is(err, conversation.ErrIDRequired):
		httpx.WriteError(r.Context(), w, toasts, httpx.NewError("invalid_request", "conversation id is required", http.StatusBadRequest))
	default:
		writeBackendError(w, r, toasts, err)
	}
}
