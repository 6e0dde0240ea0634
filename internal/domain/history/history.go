// Package history reconciles client-held and stored conversation turns into the
// alternating sequence the inference service accepts.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-tt/nexus/internal/domain"
	"github.com/nexus-tt/nexus/internal/domain/conversation"
)

// Policy decides how client and stored turns are combined.
type Policy string

const (
	// MergeHeuristic uses the client list as the base and prepends the stored
	// turns it is missing, judged by length difference only. If both sides
	// diverged the result can contain duplicated or misordered turns.
	MergeHeuristic Policy = "heuristic"
	// TrustClient uses the client list and ignores the store.
	TrustClient Policy = "trust_client"
	// TrustStore uses the store and ignores the client list.
	TrustStore Policy = "trust_store"
)

// ParsePolicy returns MergeHeuristic for anything unrecognised.
func ParsePolicy(s string) Policy {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case TrustClient:
		return TrustClient
	case TrustStore:
		return TrustStore
	default:
		return MergeHeuristic
	}
}

// DefaultWindow is the number of prior turns sent to the model.
const DefaultWindow = 10

// Separator joins the contents of merged same-role turns.
const Separator = "\n\n"

// Turn is a client-supplied history entry with an unnormalized role label.
type Turn struct {
	Role      string         `json:"role,omitempty"`
	Type      string         `json:"type,omitempty"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Filter rewrites history before windowing, e.g. to drop blocked turns.
type Filter func([]conversation.Message) []conversation.Message

// Input is one reconciliation request.
type Input struct {
	Client     []Turn
	Stored     []conversation.Message
	Incoming   string
	IncomingAt time.Time
	Filter     Filter
}

// Result is the canonical sequence, ending with the incoming user turn.
type Result struct {
	Messages []conversation.Message
	// Warnings lists normalizations worth logging, such as unknown role labels.
	Warnings []string
}

// ErrNotTerminatedByUser is returned when the canonical sequence does not end
// with a user turn.
var ErrNotTerminatedByUser = errors.New("history: sequence does not end with a user turn")

// Reconciler merges histories under one Policy.
type Reconciler struct {
	policy Policy
	window int
}

// New creates a Reconciler. window <= 0 means DefaultWindow.
func New(policy Policy, window int) *Reconciler {
	if policy == "" {
		policy = MergeHeuristic
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reconciler{policy: policy, window: window}
}

// Policy returns the merge policy in use.
func (r *Reconciler) Policy() Policy { return r.policy }

// Reconcile builds the canonical sequence for in.
func (r *Reconciler) Reconcile(in Input) (Result, error) {
	if strings.TrimSpace(in.Incoming) == "" {
		return Result{}, fmt.Errorf("%w: empty message", domain.ErrValidation)
	}

	var res Result
	client := make([]conversation.Message, 0, len(in.Client))
	for i, t := range in.Client {
		m, ok := conversation.FromLegacy(conversation.LegacyMessage{
			Role: t.Role, Type: t.Type, Content: t.Content, Timestamp: t.Timestamp, Metadata: t.Metadata,
		})
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("turn %d: unknown role %q treated as user", i, firstNonEmpty(t.Role, t.Type)))
		}
		client = append(client, m)
	}

	msgs := DropEmpty(r.merge(client, in.Stored))
	if in.Filter != nil {
		msgs = in.Filter(msgs)
	}
	msgs = Collapse(msgs)
	if len(msgs) > r.window {
		msgs = msgs[len(msgs)-r.window:]
	}

	msgs = append(msgs, conversation.Message{
		Role:      conversation.RoleUser,
		Content:   in.Incoming,
		Timestamp: in.IncomingAt,
	})
	msgs = trimLeadingAssistant(Collapse(msgs))

	if len(msgs) == 0 || msgs[len(msgs)-1].Role != conversation.RoleUser {
		return Result{}, ErrNotTerminatedByUser
	}
	res.Messages = msgs
	return res, nil
}

func (r *Reconciler) merge(client, stored []conversation.Message) []conversation.Message {
	switch r.policy {
	case TrustClient:
		return clone(client)
	case TrustStore:
		return clone(stored)
	}
	if len(client) == 0 {
		return clone(stored)
	}
	out := make([]conversation.Message, 0, max(len(client), len(stored)))
	if len(stored) > len(client) {
		out = append(out, stored[:len(stored)-len(client)]...)
	}
	return append(out, client...)
}

// Canonicalize drops empty turns, collapses same-role neighbours and removes
// leading assistant turns. It is idempotent.
func Canonicalize(msgs []conversation.Message) []conversation.Message {
	return trimLeadingAssistant(Collapse(DropEmpty(msgs)))
}

// DropEmpty removes turns whose trimmed content is empty.
func DropEmpty(msgs []conversation.Message) []conversation.Message {
	out := make([]conversation.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Collapse merges consecutive same-role turns, joining contents with Separator.
// The first turn of a run keeps its timestamp and metadata.
func Collapse(msgs []conversation.Message) []conversation.Message {
	out := make([]conversation.Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += Separator + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

func trimLeadingAssistant(msgs []conversation.Message) []conversation.Message {
	for len(msgs) > 0 && msgs[0].Role == conversation.RoleAssistant {
		msgs = msgs[1:]
	}
	return msgs
}

func clone(msgs []conversation.Message) []conversation.Message {
	return append([]conversation.Message(nil), msgs...)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
