package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nexus-tt/nexus/internal/adapter/litellm"
	"github.com/nexus-tt/nexus/internal/port/inference"
	"github.com/nexus-tt/nexus/internal/resilience"
)

func sseChunk(content, finish string) string {
	choice := map[string]any{"index": 0, "delta": map[string]any{"content": content}}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"model":   "claude-sonnet",
		"choices": []any{choice},
	})
	return "data: " + string(b) + "\n\n"
}

func streamServer(t *testing.T, body string, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, s inference.Stream) ([]string, error) {
	t.Helper()
	defer func() { _ = s.Close() }()
	var deltas []string
	for {
		d, err := s.Recv()
		if err != nil {
			return deltas, err
		}
		deltas = append(deltas, d)
	}
}

func TestStreamChatDeltasInOrder(t *testing.T) {
	var got map[string]any
	body := sseChunk("제목 ", "") + sseChunk("하나", "") + sseChunk("", "stop") + "data: [DONE]\n\n"
	srv := streamServer(t, body, func(r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth: %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	})

	client := litellm.NewClient(srv.URL, "test-key", "claude-sonnet")
	s, err := client.StreamChat(context.Background(), inference.Request{
		System:      "system text",
		Messages:    []inference.Message{{Role: "user", Content: "안녕"}},
		MaxTokens:   16384,
		Temperature: 0.2,
		TopP:        0.7,
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	deltas, err := drain(t, s)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
	if strings.Join(deltas, "") != "제목 하나" || len(deltas) != 2 {
		t.Errorf("unexpected deltas: %q", deltas)
	}

	if got["model"] != "claude-sonnet" || got["stream"] != true || got["max_tokens"] != float64(16384) {
		t.Errorf("unexpected request body: %v", got)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %v", msgs)
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" || first["content"] != "system text" {
		t.Errorf("unexpected system message: %v", first)
	}
}

func TestStreamChatSendsZeroTemperature(t *testing.T) {
	var got map[string]any
	body := sseChunk("ok", "stop") + "data: [DONE]\n\n"
	srv := streamServer(t, body, func(r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	})

	client := litellm.NewClient(srv.URL, "test-key", "m")
	s, err := client.StreamChat(context.Background(), inference.Request{
		Messages:    []inference.Message{{Role: "user", Content: "안녕"}},
		MaxTokens:   10,
		Temperature: 0,
		TopP:        0.7,
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if _, err := drain(t, s); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	temp, ok := got["temperature"].(float64)
	if !ok {
		t.Fatalf("request body has no temperature: %v", got)
	}
	if temp <= 0 || temp > 1e-6 {
		t.Errorf("temperature = %v, want a value just above zero", temp)
	}
}

func TestStreamChatIncomplete(t *testing.T) {
	// The body ends without a finish reason or [DONE].
	srv := streamServer(t, sseChunk("partial", ""), nil)
	client := litellm.NewClient(srv.URL, "", "m")

	s, err := client.StreamChat(context.Background(), inference.Request{Messages: []inference.Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatal(err)
	}
	deltas, err := drain(t, s)
	if !errors.Is(err, inference.ErrIncompleteStream) {
		t.Fatalf("expected ErrIncompleteStream, got %v", err)
	}
	if len(deltas) != 1 || deltas[0] != "partial" {
		t.Errorf("unexpected deltas: %q", deltas)
	}
}

func TestStreamChatUpstreamErrorTripsBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", "m")
	client.SetBreaker(resilience.NewBreaker(1, time.Minute))

	req := inference.Request{Messages: []inference.Message{{Role: "user", Content: "x"}}}
	if _, err := client.StreamChat(context.Background(), req); err == nil {
		t.Fatal("expected upstream error")
	}
	if _, err := client.StreamChat(context.Background(), req); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls != 1 {
		t.Errorf("open circuit should not reach upstream, got %d calls", calls)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/liveliness" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `"I'm alive!"`)
	}))
	defer srv.Close()

	if err := litellm.NewClient(srv.URL, "k", "m").Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestHealthUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := litellm.NewClient(srv.URL, "", "m").Health(context.Background()); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestKeySourceRotation(t *testing.T) {
	var seen []string
	body := sseChunk("ok", "stop") + "data: [DONE]\n\n"
	srv := streamServer(t, body, func(r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
	})

	current := "key-1"
	client := litellm.NewClient(srv.URL, "boot-key", "m")
	client.SetKeySource(func() string { return current })

	for _, k := range []string{"key-1", "key-2", ""} {
		current = k
		s, err := client.StreamChat(context.Background(), inference.Request{Messages: []inference.Message{{Role: "user", Content: "x"}}})
		if err != nil {
			t.Fatalf("StreamChat: %v", err)
		}
		_, _ = drain(t, s)
	}

	want := []string{"Bearer key-1", "Bearer key-2", "Bearer boot-key"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("expected auth headers %v, got %v", want, seen)
	}
}
