// Package chat owns the conversation log of a user and the completion
// context built from it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/repo"
)

// Completer returns the assistant reply for a context window
type Completer interface {
	Complete(ctx context.Context, turns []Turn) (string, error)
}

// View is a message as presented to clients
type View struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
	Type string    `json:"type"`
	Date time.Time `json:"date"`
}

// Present converts a stored message to its client form
func Present(m model.Message) View {
	kind := "bot"
	if m.Role == model.RoleUser {
		kind = "user"
	}
	return View{ID: m.ID, Text: m.Content, Type: kind, Date: m.CreatedAt}
}

// PresentAll converts a slice of stored messages
func PresentAll(msgs []model.Message) []View {
	views := make([]View, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, Present(m))
	}
	return views
}

// Service handles chat operations
type Service struct {
	messages  repo.MessageRepo
	completer Completer
	assistant string
	logger    *zap.Logger
}

// NewService creates a chat service answering as assistant
func NewService(messages repo.MessageRepo, completer Completer, assistant string, logger *zap.Logger) *Service {
	return &Service{
		messages:  messages,
		completer: completer,
		assistant: assistant,
		logger:    logger,
	}
}

// History returns the slice [start, end) of the user's log, oldest first.
// A nil end means up to the newest message. end is an exclusive index, not a
// count: clients that paged with skip/limit must send start+limit.
func (s *Service) History(ctx context.Context, userID uuid.UUID, start int, end *int) ([]model.Message, error) {
	if start < 0 {
		return nil, apperr.ValidationError("start must not be negative")
	}
	limit := 0
	if end != nil {
		if *end < start {
			return nil, apperr.ValidationError("end must not be less than start")
		}
		if *end == start {
			return []model.Message{}, nil
		}
		limit = *end - start
	}
	msgs, err := s.messages.List(ctx, userID, start, limit)
	if err != nil {
		return nil, apperr.InternalError(err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// Ask records a user message and the assistant's reply to it. The reply is
// computed from the window preceding the new message; both are persisted
// only when the completion succeeds.
func (s *Service) Ask(ctx context.Context, user model.User, text string) ([]model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.ValidationError("text is required")
	}

	lastUser, err := s.latest(ctx, user.ID, model.RoleUser)
	if err != nil {
		return nil, apperr.InternalError(err)
	}
	lastAssistant, err := s.latest(ctx, user.ID, model.RoleAssistant)
	if err != nil {
		return nil, apperr.InternalError(err)
	}

	window := BuildWindow(s.assistant, user.DisplayName(), lastUser, lastAssistant, text)
	reply, err := s.completer.Complete(ctx, window)
	if err != nil {
		s.logger.Error("completion_failed", zap.String("user_id", user.ID.String()), zap.Error(err))
		return nil, apperr.UpstreamError("assistant is unavailable", err)
	}

	stored, err := s.messages.Append(ctx,
		model.Message{UserID: user.ID, Role: model.RoleUser, Content: text},
		model.Message{UserID: user.ID, Role: model.RoleAssistant, Content: reply},
	)
	if err != nil {
		return nil, apperr.InternalError(err)
	}
	return stored, nil
}

func (s *Service) latest(ctx context.Context, userID uuid.UUID, role string) (*model.Message, error) {
	m, err := s.messages.LatestByRole(ctx, userID, role)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Delete removes one of the user's messages by its id string.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, rawID string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return uuid.Nil, apperr.ValidationError("invalid message id")
	}
	if err := s.messages.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return uuid.Nil, apperr.NotFoundError("message")
		}
		return uuid.Nil, apperr.InternalError(err)
	}
	return id, nil
}

// Greet persists the greeting pair shown to a newly created account.
func (s *Service) Greet(ctx context.Context, user model.User) ([]model.Message, error) {
	return s.record(ctx, user.ID,
		model.Message{Role: model.RoleAssistant, Content: fmt.Sprintf("Hi! I'm %s, your voice assistant.", s.assistant)},
		model.Message{Role: model.RoleAssistant, Content: "What should I call you?"},
	)
}

// Welcome persists the exchange that completes onboarding once the user
// has told us their name.
func (s *Service) Welcome(ctx context.Context, user model.User) ([]model.Message, error) {
	name := user.DisplayName()
	return s.record(ctx, user.ID,
		model.Message{Role: model.RoleUser, Content: "My name is " + name},
		model.Message{Role: model.RoleAssistant, Content: fmt.Sprintf("Nice to meet you, %s! Ask me anything.", name)},
	)
}

func (s *Service) record(ctx context.Context, userID uuid.UUID, msgs ...model.Message) ([]model.Message, error) {
	for i := range msgs {
		msgs[i].UserID = userID
	}
	stored, err := s.messages.Append(ctx, msgs...)
	if err != nil {
		return nil, apperr.InternalError(err)
	}
	return stored, nil
}
