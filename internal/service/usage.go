package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus-tt/nexus/internal/domain"
	"github.com/nexus-tt/nexus/internal/domain/engine"
	"github.com/nexus-tt/nexus/internal/domain/usage"
	"github.com/nexus-tt/nexus/internal/port/messagequeue"
	"github.com/nexus-tt/nexus/internal/port/usagestore"
)

// TurnSummary describes a completed chat turn for post-completion hooks.
type TurnSummary struct {
	ConversationID string
	UserID         string
	Engine         engine.Selector
	Input          string
	Output         string
	Chunks         int
	Attempts       int
	Valid          bool
	CompletedAt    time.Time
}

// UsageService accounts token usage. With a queue, events are published and
// applied by the subscriber; without one they are applied directly.
type UsageService struct {
	store usagestore.Store
	queue messagequeue.Queue
	limit int64
}

// NewUsageService creates a UsageService. queue may be nil.
func NewUsageService(store usagestore.Store, queue messagequeue.Queue, monthlyLimit int64) *UsageService {
	return &UsageService{store: store, queue: queue, limit: monthlyLimit}
}

// AfterTurn records usage for t and announces the completion. Failures are
// logged and never returned.
func (s *UsageService) AfterTurn(ctx context.Context, t TurnSummary) {
	if t.UserID == "" {
		slog.DebugContext(ctx, "usage skipped for anonymous turn")
	} else if err := s.Record(ctx, usage.NewEvent(t.UserID, t.Engine, t.Input, t.Output, t.CompletedAt)); err != nil {
		slog.WarnContext(ctx, "usage recording failed", "error", err)
	}

	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.ChatCompletedPayload{
		ConversationID: t.ConversationID,
		UserID:         t.UserID,
		Engine:         string(t.Engine),
		TotalChunks:    t.Chunks,
		ResponseLength: len([]rune(t.Output)),
		Attempts:       t.Attempts,
		Valid:          t.Valid,
	})
	if err != nil {
		slog.WarnContext(ctx, "marshal chat.completed failed", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectChatCompleted, data); err != nil {
		slog.WarnContext(ctx, "publish chat.completed failed", "error", err)
	}
}

// Record accounts one event.
func (s *UsageService) Record(ctx context.Context, e usage.Event) error {
	if s.queue == nil {
		_, err := s.store.Apply(ctx, e)
		return err
	}
	data, err := json.Marshal(messagequeue.UsageRecordedPayload{
		UserID:       e.UserID,
		Engine:       string(e.Engine),
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
		OccurredAt:   e.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}
	return s.queue.Publish(ctx, messagequeue.SubjectUsageRecorded, data)
}

// StartConsumer subscribes to usage.recorded and applies every event to the
// store. It is a no-op without a queue.
func (s *UsageService) StartConsumer(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectUsageRecorded, s.handleRecorded)
}

func (s *UsageService) handleRecorded(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.UsageRecordedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode usage event: %w", err)
	}
	sel, err := engine.ParseSelector(p.Engine)
	if err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339Nano, p.OccurredAt)
	if err != nil {
		at = time.Now().UTC()
	}
	rec, err := s.store.Apply(ctx, usage.Event{
		UserID:       p.UserID,
		Engine:       sel,
		InputTokens:  p.InputTokens,
		OutputTokens: p.OutputTokens,
		OccurredAt:   at,
	})
	if err != nil {
		return fmt.Errorf("apply usage: %w", err)
	}
	slog.DebugContext(ctx, "usage applied",
		"user_id", rec.UserID, "engine", rec.Engine, "period", rec.Period,
		"total_tokens", rec.TotalTokens)
	return nil
}

// List returns the usage counters of a user measured against the monthly limit.
func (s *UsageService) List(ctx context.Context, userID string) ([]usage.Summary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	recs, err := s.store.ListUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]usage.Summary, 0, len(recs))
	for _, r := range recs {
		out = append(out, usage.Summarize(r, s.limit))
	}
	return out, nil
}
