// Package conversation defines conversations and the messages exchanged in them.
package conversation

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nexus-tt/nexus/internal/domain/engine"
)

// Role is the speaker of a message. It has exactly two values.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole maps heterogeneous role labels onto a Role. Unknown labels map to
// RoleUser and report ok=false so callers can warn.
func ParseRole(label string) (r Role, ok bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "user", "human":
		return RoleUser, true
	case "assistant", "ai", "bot":
		return RoleAssistant, true
	default:
		return RoleUser, false
	}
}

// Message is a single turn in a conversation.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Conversation is a chat thread owned by one user and bound to one engine.
type Conversation struct {
	ID        string          `json:"conversationId"`
	UserID    string          `json:"userId"`
	Engine    engine.Selector `json:"engineType"`
	Title     string          `json:"title"`
	Messages  []Message       `json:"messages"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

const titleMaxRunes = 40

// DefaultTitle is used when a conversation is created without any content.
const DefaultTitle = "새 대화"

// DeriveTitle builds a conversation title from the first user message.
func DeriveTitle(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(line) <= titleMaxRunes {
		return line
	}
	runes := []rune(line)
	return string(runes[:titleMaxRunes]) + "..."
}

// SaveRequest is the request body for creating or fully replacing a conversation.
type SaveRequest struct {
	ConversationID string          `json:"conversationId" validate:"omitempty,max=128"`
	UserID         string          `json:"userId" validate:"required,max=128"`
	EngineType     string          `json:"engineType" validate:"omitempty,oneof=T5 H8"`
	Title          string          `json:"title" validate:"max=200"`
	Messages       []LegacyMessage `json:"messages" validate:"dive"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// TitleRequest is the request body for renaming a conversation.
type TitleRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// LegacyMessage is the wire form of a message. Older clients send the speaker
// in "type" instead of "role"; both are accepted and both are written back.
type LegacyMessage struct {
	Role      string         `json:"role,omitempty"`
	Type      string         `json:"type,omitempty"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes the wire form. A timestamp that is missing, empty or
// in an unknown layout decodes as the zero time instead of failing the message.
func (lm *LegacyMessage) UnmarshalJSON(data []byte) error {
	type plain LegacyMessage
	var w struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*lm = LegacyMessage(w.plain)
	lm.Timestamp = parseTimestamp(w.Timestamp)
	return nil
}

// timestampLayouts are tried in order. Layouts without a zone read as UTC and
// all of them accept fractional seconds.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

func parseTimestamp(raw json.RawMessage) time.Time {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return time.Time{}
	}
	switch x := v.(type) {
	case string:
		x = strings.TrimSpace(x)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC()
			}
		}
	case float64:
		// Epoch seconds, or milliseconds when too large to be seconds.
		if x <= 0 {
			return time.Time{}
		}
		if x >= 1e11 {
			return time.UnixMilli(int64(x)).UTC()
		}
		sec := int64(x)
		return time.Unix(sec, int64((x-float64(sec))*1e9)).UTC()
	}
	return time.Time{}
}

// FromLegacy converts the wire form to a Message. role wins over type when both
// are set. ok is false when neither label was recognised.
func FromLegacy(lm LegacyMessage) (m Message, ok bool) {
	label := lm.Role
	if label == "" {
		label = lm.Type
	}
	r, ok := ParseRole(label)
	return Message{
		Role:      r,
		Content:   lm.Content,
		Timestamp: lm.Timestamp,
		Metadata:  lm.Metadata,
	}, ok
}

// ToLegacy converts a Message to the wire form with role and type both filled.
func ToLegacy(m Message) LegacyMessage {
	return LegacyMessage{
		Role:      string(m.Role),
		Type:      string(m.Role),
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Metadata:  m.Metadata,
	}
}
