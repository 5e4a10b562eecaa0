// Package conversation implements the customer side of support chat.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"finitefield.org/fashion-web/internal/auth"
	"finitefield.org/fashion-web/internal/notify"
	"finitefield.org/fashion-web/internal/storeapi"
)

// MaxBodyRunes bounds the length of a message body.
const MaxBodyRunes = 2000

var (
	// ErrUnauthenticated is returned when no customer is signed in.
	ErrUnauthenticated = errors.New("conversation: sign in required")
	// ErrEmptyBody is returned when the sanitized body is blank.
	ErrEmptyBody = errors.New("conversation: message body is empty")
	// ErrBodyTooLong is returned when the body exceeds MaxBodyRunes.
	ErrBodyTooLong = errors.New("conversation: message body is too long")
	// ErrIDRequired is returned when the conversation id is blank.
	ErrIDRequired = errors.New("conversation: id is required")

	errInboxAPIRequired = errors.New("conversation: api is required")

	bodyPolicy = bluemonday.StrictPolicy()
)

// API is the subset of the storefront API used by the inbox.
type API interface {
	ListConversations(ctx context.Context) ([]storeapi.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]storeapi.Message, error)
	SendMessage(ctx context.Context, conversationID, body string) (storeapi.Message, error)
}

// InboxDeps wires the collaborators of an Inbox.
type InboxDeps struct {
	API      API
	User     *auth.User
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Inbox reads and posts support messages for the signed-in customer.
type Inbox struct {
	api      API
	user     *auth.User
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewInbox validates deps and builds an Inbox.
func NewInbox(deps InboxDeps) (*Inbox, error) {
	if deps.API == nil {
		return nil, errInboxAPIRequired
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Discard{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{api: deps.API, user: deps.User, notifier: notifier, logger: logger}, nil
}

// Conversations lists the customer's threads, most recently active first.
func (in *Inbox) Conversations(ctx context.Context) ([]storeapi.Conversation, error) {
	if in.user == nil {
		return nil, ErrUnauthenticated
	}
	list, err := in.api.ListConversations(ctx)
	if err != nil {
		in.logger.Warn("conversation: list failed", zap.String("userID", in.user.ID), zap.Error(err))
		in.notifier.Error("We couldn't load your messages.")
		return nil, fmt.Errorf("conversation: list: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list, nil
}

// Messages lists a thread in the order it was written.
func (in *Inbox) Messages(ctx context.Context, conversationID string) ([]storeapi.Message, error) {
	if in.user == nil {
		return nil, ErrUnauthenticated
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrIDRequired
	}
	list, err := in.api.ListMessages(ctx, conversationID)
	if err != nil {
		in.logger.Warn("conversation: messages failed",
			zap.String("userID", in.user.ID),
			zap.String("conversationID", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("conversation: messages: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].SentAt.Before(list[j].SentAt) })
	return list, nil
}

// Send posts a message after trimming and stripping markup from the body.
func (in *Inbox) Send(ctx context.Context, conversationID, body string) (storeapi.Message, error) {
	if in.user == nil {
		return storeapi.Message{}, ErrUnauthenticated
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return storeapi.Message{}, ErrIDRequired
	}
	clean, err := CleanBody(body)
	if err != nil {
		in.notifier.Warning(bodyProblem(err))
		return storeapi.Message{}, err
	}
	msg, err := in.api.SendMessage(ctx, conversationID, clean)
	if err != nil {
		in.logger.Warn("conversation: send failed",
			zap.String("userID", in.user.ID),
			zap.String("conversationID", conversationID),
			zap.Error(err),
		)
		in.notifier.Error("Your message could not be sent. Please try again.")
		return storeapi.Message{}, fmt.Errorf("conversation: send: %w", err)
	}
	return msg, nil
}

// CleanBody strips markup, including entity-encoded markup, and checks the length. The result is
// HTML-escaped once.
func CleanBody(body string) (string, error) {
	clean := strings.TrimSpace(bodyPolicy.Sanitize(html.UnescapeString(strings.TrimSpace(body))))
	switch n := utf8.RuneCountInString(clean); {
	case n == 0:
		return "", ErrEmptyBody
	case n > MaxBodyRunes:
		return "", ErrBodyTooLong
	}
	return clean, nil
}

func bodyProblem(err error) string {
	if errors.Is(err, ErrBodyTooLong) {
		return fmt.Sprintf("Messages are limited to %d characters.", MaxBodyRunes)
	}
	return "Please write a message before sending."
}
