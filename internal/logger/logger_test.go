package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/nexus-tt/nexus/internal/config"
)

func TestNew(t *testing.T) {
	l, closer := New(config.Logging{Level: "debug", Service: "test-svc"})
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsyncFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "info", Service: "svc", Async: true}, &buf)
	l.With("component", "chat").Info("queued")
	closer.Close()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["component"] != "chat" || rec["service"] != "svc" {
		t.Errorf("derived attributes lost in async mode: %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || ConnectionID(ctx) != "" || ConversationID(ctx) != "" {
		t.Fatal("expected empty ids on a bare context")
	}

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithConnectionID(ctx, "conn-1")
	ctx = WithConversationID(ctx, "conv-9")
	if RequestID(ctx) != "req-123" || ConnectionID(ctx) != "conn-1" || ConversationID(ctx) != "conv-9" {
		t.Error("ids not round-tripped through the context")
	}
}

func TestContextHandlerAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "info", Service: "svc"}, &buf)
	defer closer.Close()

	ctx := WithConversationID(WithConnectionID(context.Background(), "conn-1"), "conv-9")
	l.InfoContext(ctx, "turn started")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["connection_id"] != "conn-1" || rec["conversation_id"] != "conv-9" {
		t.Errorf("ids missing from record: %v", rec)
	}
	if _, ok := rec["request_id"]; ok {
		t.Error("unset request id should not be logged")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("안녕하세요", 2); got != "안녕..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("hi", 5); got != "hi" {
		t.Errorf("Truncate = %q", got)
	}
}
