// Package conversationstore defines the persistence port for conversations.
package conversationstore

import (
	"context"

	"github.com/nexus-tt/nexus/internal/domain/conversation"
	"github.com/nexus-tt/nexus/internal/domain/engine"
)

// AppendRequest describes one turn to append. The conversation is created on
// first append, owned by UserID and bound to Engine.
type AppendRequest struct {
	ConversationID string
	UserID         string
	Engine         engine.Selector
	Message        conversation.Message
}

// Store is the turn-level contract the chat path depends on.
type Store interface {
	// Get returns the ordered turns of a conversation; an unknown id yields an
	// empty slice and no error.
	Get(ctx context.Context, conversationID string) ([]conversation.Message, error)
	Append(ctx context.Context, req AppendRequest) error
	ReplaceAll(ctx context.Context, conversationID string, msgs []conversation.Message) error
	Delete(ctx context.Context, conversationID string) error
}

// ListFilter narrows ListByUser.
type ListFilter struct {
	Engine engine.Selector
	Limit  int
}

// Repository adds the whole-conversation operations used by the REST API.
type Repository interface {
	Store
	Find(ctx context.Context, conversationID string) (*conversation.Conversation, error)
	// ListByUser returns conversations newest first, without messages.
	ListByUser(ctx context.Context, userID string, f ListFilter) ([]conversation.Conversation, error)
	Upsert(ctx context.Context, c *conversation.Conversation) error
	UpdateTitle(ctx context.Context, conversationID, title string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
