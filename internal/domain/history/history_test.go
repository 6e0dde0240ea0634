package history

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/nexus-tt/nexus/internal/domain"
	"github.com/nexus-tt/nexus/internal/domain/conversation"
)

func msg(role conversation.Role, content string) conversation.Message {
	return conversation.Message{Role: role, Content: content}
}

func user(c string) conversation.Message      { return msg(conversation.RoleUser, c) }
func assistant(c string) conversation.Message { return msg(conversation.RoleAssistant, c) }

func contents(msgs []conversation.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

func TestReconcileFallsBackToStore(t *testing.T) {
	r := New(MergeHeuristic, 0)
	res, err := r.Reconcile(Input{
		Stored:   []conversation.Message{user("안녕"), assistant("반가워요")},
		Incoming: "제목 추천해줘",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{"user:안녕", "assistant:반가워요", "user:제목 추천해줘"}
	if got := contents(res.Messages); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReconcileHeuristicPrependsMissingPrefix(t *testing.T) {
	r := New(MergeHeuristic, 0)
	res, err := r.Reconcile(Input{
		Client:   []Turn{{Role: "user", Content: "q2"}, {Type: "ai", Content: "a2"}},
		Stored:   []conversation.Message{user("q1"), assistant("a1"), user("q2"), assistant("a2")},
		Incoming: "q3",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{"user:q1", "assistant:a1", "user:q2", "assistant:a2", "user:q3"}
	if got := contents(res.Messages); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReconcileHeuristicDuplicatesWhenDiverged(t *testing.T) {
	// The client holds the first two turns while the store holds three. The
	// heuristic prepends the store's first turn again, duplicating "q1".
	r := New(MergeHeuristic, 0)
	res, err := r.Reconcile(Input{
		Client:   []Turn{{Role: "user", Content: "q1"}, {Role: "assistant", Content: "a1"}},
		Stored:   []conversation.Message{user("q1"), assistant("a1"), user("orphan")},
		Incoming: "q2",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{"user:q1\n\nq1", "assistant:a1", "user:q2"}
	if got := contents(res.Messages); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReconcileTrustPolicies(t *testing.T) {
	in := Input{
		Client:   []Turn{{Role: "user", Content: "client"}},
		Stored:   []conversation.Message{user("store"), assistant("store-a")},
		Incoming: "next",
	}

	res, _ := New(TrustClient, 0).Reconcile(in)
	if got := contents(res.Messages); !reflect.DeepEqual(got, []string{"user:client\n\nnext"}) {
		t.Errorf("trust client: %v", got)
	}

	res, _ = New(TrustStore, 0).Reconcile(in)
	if got := contents(res.Messages); !reflect.DeepEqual(got, []string{"user:store", "assistant:store-a", "user:next"}) {
		t.Errorf("trust store: %v", got)
	}
}

func TestReconcileNormalizesAndDropsEmpty(t *testing.T) {
	r := New(MergeHeuristic, 0)
	res, err := r.Reconcile(Input{
		Client: []Turn{
			{Role: "human", Content: "hi"},
			{Role: "bot", Content: "   "},
			{Role: "system", Content: "odd"},
			{Type: "assistant", Content: "hello"},
		},
		Incoming: "go",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{"user:hi\n\nodd", "assistant:hello", "user:go"}
	if got := contents(res.Messages); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected one warning for the unknown role, got %v", res.Warnings)
	}
}

func TestReconcileWindowAndLeadingAssistant(t *testing.T) {
	var stored []conversation.Message
	for i := range 6 {
		stored = append(stored, user(fmt.Sprintf("q%d", i)), assistant(fmt.Sprintf("a%d", i)))
	}
	res, err := New(MergeHeuristic, 3).Reconcile(Input{Stored: stored, Incoming: "new"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	// The window keeps a4, q5, a5; the leading assistant turn is dropped.
	want := []string{"user:q5", "assistant:a5", "user:new"}
	if got := contents(res.Messages); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReconcileFilter(t *testing.T) {
	filter := func(msgs []conversation.Message) []conversation.Message {
		var out []conversation.Message
		for _, m := range msgs {
			if m.Content != "blocked" {
				out = append(out, m)
			}
		}
		return out
	}
	res, err := New(MergeHeuristic, 0).Reconcile(Input{
		Stored:   []conversation.Message{user("ok"), assistant("a"), user("blocked"), assistant("b")},
		Incoming: "next",
		Filter:   filter,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{"user:ok", "assistant:a\n\nb", "user:next"}
	if got := contents(res.Messages); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReconcileRejectsEmptyIncoming(t *testing.T) {
	_, err := New(MergeHeuristic, 0).Reconcile(Input{Incoming: "  "})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCollapseConservesContent(t *testing.T) {
	in := []conversation.Message{user("a"), user("bb"), assistant("c"), assistant("dd"), assistant("e"), user("f")}
	out := Collapse(in)

	for i := 1; i < len(out); i++ {
		if out[i].Role == out[i-1].Role {
			t.Fatalf("adjacent same roles at %d: %v", i, contents(out))
		}
	}
	before, after := 0, 0
	for _, m := range in {
		before += len(m.Content)
	}
	for _, m := range out {
		after += len(m.Content)
	}
	merges := len(in) - len(out)
	if after != before+merges*len(Separator) {
		t.Errorf("content not conserved: before=%d after=%d merges=%d", before, after, merges)
	}
	if in[0].Content != "a" {
		t.Error("input modified")
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	in := []conversation.Message{assistant("x"), user("a"), user("b"), assistant(""), assistant("c"), user("d")}
	once := Canonicalize(in)
	twice := Canonicalize(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("not idempotent: %v vs %v", contents(once), contents(twice))
	}
	if once[0].Role != conversation.RoleUser {
		t.Error("canonical history must start with user")
	}
}

func TestParsePolicy(t *testing.T) {
	if ParsePolicy("TRUST_STORE") != TrustStore || ParsePolicy("trust_client") != TrustClient || ParsePolicy("") != MergeHeuristic {
		t.Error("unexpected policy parsing")
	}
}
