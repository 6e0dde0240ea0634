package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/nexus-tt/nexus/internal/domain/conversation"
)

// encodeMessages writes messages in the stored wire form, with both the role
// and the legacy type key filled.
func encodeMessages(msgs []conversation.Message) ([]byte, error) {
	wire := make([]conversation.LegacyMessage, len(msgs))
	for i, m := range msgs {
		wire[i] = conversation.ToLegacy(m)
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return b, nil
}

// decodeMessages reads the stored wire form. Rows written by older clients may
// carry only one of role and type.
func decodeMessages(raw []byte) ([]conversation.Message, error) {
	if len(raw) == 0 {
		return []conversation.Message{}, nil
	}
	var wire []conversation.LegacyMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	msgs := make([]conversation.Message, len(wire))
	for i, lm := range wire {
		msgs[i], _ = conversation.FromLegacy(lm)
	}
	return msgs, nil
}
