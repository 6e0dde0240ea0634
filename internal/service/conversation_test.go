package service

import (
	"context"
	"errors"
	"testing"

	"github.com/nexus-tt/nexus/internal/domain"
	"github.com/nexus-tt/nexus/internal/domain/conversation"
	"github.com/nexus-tt/nexus/internal/domain/engine"
)

func TestConversationService_SaveGeneratesIDAndTitle(t *testing.T) {
	repo := newMemConversations()
	svc := NewConversationService(repo)

	c, err := svc.Save(context.Background(), conversation.SaveRequest{
		UserID:     "u1",
		EngineType: "H8",
		Messages: []conversation.LegacyMessage{
			{Type: "human", Content: "경제 기사 제목 추천해줘\n본문은 다음과 같습니다"},
			{Role: "assistant", Content: "1. 제목"},
		},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected a generated id")
	}
	if c.Title != "경제 기사 제목 추천해줘" {
		t.Errorf("title = %q", c.Title)
	}
	if c.Engine != engine.H8 {
		t.Errorf("engine = %q", c.Engine)
	}
	if c.Messages[0].Role != conversation.RoleUser || c.Messages[1].Role != conversation.RoleAssistant {
		t.Errorf("roles = %v, %v", c.Messages[0].Role, c.Messages[1].Role)
	}
	if c.Messages[0].Timestamp.IsZero() {
		t.Error("missing timestamps should be filled")
	}
}

func TestConversationService_SaveReplacesMessages(t *testing.T) {
	repo := newMemConversations()
	repo.seed("c1", "u1", conversation.Message{Role: conversation.RoleUser, Content: "old"})
	svc := NewConversationService(repo)

	_, err := svc.Save(context.Background(), conversation.SaveRequest{
		ConversationID: "c1",
		UserID:         "u1",
		Title:          "정리",
		Messages:       []conversation.LegacyMessage{{Role: "user", Content: "new"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.Get(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "new" || got.Title != "정리" {
		t.Errorf("conversation = %+v", got)
	}
}

func TestConversationService_SaveRejectsUnknownEngine(t *testing.T) {
	svc := NewConversationService(newMemConversations())
	_, err := svc.Save(context.Background(), conversation.SaveRequest{UserID: "u1", EngineType: "X1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestConversationService_ListFilters(t *testing.T) {
	repo := newMemConversations()
	repo.seed("a", "u1")
	repo.seed("b", "u2")
	repo.convs["c"] = &conversation.Conversation{ID: "c", UserID: "u1", Engine: engine.H8}
	svc := NewConversationService(repo)

	all, err := svc.List(context.Background(), "u1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("list = %d, want 2", len(all))
	}
	h8, err := svc.List(context.Background(), "u1", "h8", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(h8) != 1 || h8[0].ID != "c" {
		t.Errorf("filtered = %+v", h8)
	}
	if _, err := svc.List(context.Background(), "", "", 0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing user err = %v", err)
	}
}

func TestConversationService_RenameDeletePurge(t *testing.T) {
	repo := newMemConversations()
	repo.seed("a", "u1")
	repo.seed("b", "u1")
	repo.seed("c", "u2")
	svc := NewConversationService(repo)
	ctx := context.Background()

	if err := svc.Rename(ctx, "a", conversation.TitleRequest{Title: "  새 제목 "}); err != nil {
		t.Fatal(err)
	}
	if repo.convs["a"].Title != "새 제목" {
		t.Errorf("title = %q", repo.convs["a"].Title)
	}
	if err := svc.Rename(ctx, "a", conversation.TitleRequest{Title: " "}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("blank title err = %v", err)
	}

	if err := svc.Delete(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "c"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}

	n, err := svc.PurgeUser(ctx, "u1")
	if err != nil || n != 2 {
		t.Errorf("PurgeUser = %d, %v", n, err)
	}
	if _, err := svc.PurgeUser(ctx, ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty user err = %v", err)
	}
}
