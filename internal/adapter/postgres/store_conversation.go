package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nexus-tt/nexus/internal/domain/conversation"
	"github.com/nexus-tt/nexus/internal/port/conversationstore"
)

const conversationColumns = `id, user_id, engine, title, messages, metadata, created_at, updated_at`

func scanConversation(row scannable) (*conversation.Conversation, error) {
	var (
		c   conversation.Conversation
		raw []byte
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Engine, &c.Title, &raw, &c.Metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	msgs, err := decodeMessages(raw)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return &c, nil
}

// Get returns the stored turns of a conversation, or an empty slice if the
// conversation does not exist yet.
func (s *Store) Get(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT messages FROM conversations WHERE id = $1`, conversationID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []conversation.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get messages %s: %w", conversationID, err)
	}
	return decodeMessages(raw)
}

// Append adds one turn, creating the conversation on first use. Concatenation
// happens in a single statement so concurrent appends do not lose turns.
func (s *Store) Append(ctx context.Context, req conversationstore.AppendRequest) error {
	raw, err := encodeMessages([]conversation.Message{req.Message})
	if err != nil {
		return err
	}
	title := conversation.DefaultTitle
	if req.Message.Role == conversation.RoleUser {
		title = conversation.DeriveTitle(req.Message.Content)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, engine, title, messages)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET messages = conversations.messages || EXCLUDED.messages, updated_at = now()`,
		req.ConversationID, req.UserID, string(req.Engine), title, raw)
	if err != nil {
		return fmt.Errorf("append message %s: %w", req.ConversationID, err)
	}
	return nil
}

// ReplaceAll overwrites the turn list of an existing conversation.
func (s *Store) ReplaceAll(ctx context.Context, conversationID string, msgs []conversation.Message) error {
	raw, err := encodeMessages(orEmpty(msgs))
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET messages = $2, updated_at = now() WHERE id = $1`,
		conversationID, raw)
	return execExpectOne(tag, err, "replace messages %s", conversationID)
}

func (s *Store) Delete(ctx context.Context, conversationID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	return execExpectOne(tag, err, "delete conversation %s", conversationID)
}

func (s *Store) Find(ctx context.Context, conversationID string) (*conversation.Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, conversationID))
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s", conversationID)
	}
	return c, nil
}

// ListByUser returns the user's conversations newest first. Messages are not
// loaded.
func (s *Store) ListByUser(ctx context.Context, userID string, f conversationstore.ListFilter) ([]conversation.Conversation, error) {
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, engine, title, metadata, created_at, updated_at
		 FROM conversations
		 WHERE user_id = $1 AND ($2 = '' OR engine = $2)
		 ORDER BY updated_at DESC
		 LIMIT $3`,
		userID, string(f.Engine), limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	result := []conversation.Conversation{}
	for rows.Next() {
		var c conversation.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Engine, &c.Title, &c.Metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Upsert creates the conversation or fully replaces its fields and messages.
// CreatedAt and UpdatedAt are filled from the database.
func (s *Store) Upsert(ctx context.Context, c *conversation.Conversation) error {
	raw, err := encodeMessages(orEmpty(c.Messages))
	if err != nil {
		return err
	}
	meta := c.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, user_id, engine, title, messages, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET user_id = EXCLUDED.user_id, engine = EXCLUDED.engine, title = EXCLUDED.title,
		     messages = EXCLUDED.messages, metadata = EXCLUDED.metadata, updated_at = now()
		 RETURNING created_at, updated_at`,
		c.ID, c.UserID, string(c.Engine), c.Title, raw, meta,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) UpdateTitle(ctx context.Context, conversationID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`,
		conversationID, title)
	return execExpectOne(tag, err, "update title %s", conversationID)
}

// DeleteByUser removes every conversation owned by userID and reports how many
// were deleted.
func (s *Store) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete conversations of %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}
