package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-tt/nexus/internal/domain"
	"github.com/nexus-tt/nexus/internal/domain/conversation"
	"github.com/nexus-tt/nexus/internal/domain/engine"
	"github.com/nexus-tt/nexus/internal/port/conversationstore"
)

// defaultListLimit caps ListByUser when the caller gives no limit.
const defaultListLimit = 50

// ConversationService manages whole conversations for the REST API.
type ConversationService struct {
	repo conversationstore.Repository
	now  func() time.Time
}

// NewConversationService creates a new ConversationService.
func NewConversationService(repo conversationstore.Repository) *ConversationService {
	return &ConversationService{repo: repo, now: time.Now}
}

// List returns the conversations of a user, newest first. engineType may be
// empty to list all engines.
func (s *ConversationService) List(ctx context.Context, userID, engineType string, limit int) ([]conversation.Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	var f conversationstore.ListFilter
	if engineType != "" {
		sel, err := engine.ParseSelector(engineType)
		if err != nil {
			return nil, err
		}
		f.Engine = sel
	}
	f.Limit = limit
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	return s.repo.ListByUser(ctx, userID, f)
}

// Get returns a conversation with its messages.
func (s *ConversationService) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	return s.repo.Find(ctx, id)
}

// Save creates a conversation or fully replaces an existing one. A missing id
// is generated.
func (s *ConversationService) Save(ctx context.Context, req conversation.SaveRequest) (*conversation.Conversation, error) {
	sel, err := engine.ParseSelector(req.EngineType)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	msgs := make([]conversation.Message, 0, len(req.Messages))
	for i, lm := range req.Messages {
		m, ok := conversation.FromLegacy(lm)
		if !ok {
			slog.WarnContext(ctx, "unknown message role treated as user", "index", i, "role", lm.Role, "type", lm.Type)
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		msgs = append(msgs, m)
	}

	c := &conversation.Conversation{
		ID:       req.ConversationID,
		UserID:   req.UserID,
		Engine:   sel,
		Title:    strings.TrimSpace(req.Title),
		Messages: msgs,
		Metadata: req.Metadata,
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Title == "" {
		c.Title = titleFrom(msgs)
	}
	if err := s.repo.Upsert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func titleFrom(msgs []conversation.Message) string {
	for _, m := range msgs {
		if m.Role == conversation.RoleUser && strings.TrimSpace(m.Content) != "" {
			return conversation.DeriveTitle(m.Content)
		}
	}
	return conversation.DefaultTitle
}

// Rename changes the title of a conversation.
func (s *ConversationService) Rename(ctx context.Context, id string, req conversation.TitleRequest) error {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	return s.repo.UpdateTitle(ctx, id, title)
}

// Delete removes a conversation.
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// PurgeUser removes every conversation of a user and returns how many were deleted.
func (s *ConversationService) PurgeUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "conversations purged", "user_id", userID, "count", n)
	return n, nil
}
