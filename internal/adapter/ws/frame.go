package ws

import "github.com/nexus-tt/nexus/internal/domain/conversation"

// ActionSendMessage is the default action of an inbound frame.
const ActionSendMessage = "sendMessage"

// Frame is one inbound client message.
type Frame struct {
	Action              string                       `json:"action"`
	Message             string                       `json:"message" validate:"max=20000"`
	EngineType          string                       `json:"engineType" validate:"omitempty,oneof=T5 H8 t5 h8"`
	ConversationID      string                       `json:"conversationId" validate:"omitempty,max=128"`
	ConversationHistory []conversation.LegacyMessage `json:"conversationHistory" validate:"max=200"`
	UserID              string                       `json:"userId" validate:"max=128"`
	Role                string                       `json:"role" validate:"max=32"`
	AdminKey            string                       `json:"adminKey,omitempty" validate:"max=256"`
}
