package ws

import "time"

// Event type constants for messages pushed to a chat connection.
const (
	EventAIStart   = "ai_start"
	EventAIChunk   = "ai_chunk"
	EventChatEnd   = "chat_end"
	EventChatError = "chat_error"
	EventError     = "error"
)

// AIStartEvent opens a turn.
type AIStartEvent struct {
	Type           string    `json:"type"`
	Engine         string    `json:"engine,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Message        string    `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AIChunkEvent carries one text delta. ChunkIndex is zero-based and strictly
// increasing within a turn.
type AIChunkEvent struct {
	Type       string    `json:"type"`
	Chunk      string    `json:"chunk"`
	ChunkIndex int       `json:"chunk_index"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatEndEvent closes a successful turn. PersistenceWarning is set when the
// exchange may not have been stored.
type ChatEndEvent struct {
	Type               string    `json:"type"`
	Engine             string    `json:"engine,omitempty"`
	ConversationID     string    `json:"conversationId"`
	TotalChunks        int       `json:"total_chunks"`
	ResponseLength     int       `json:"response_length"`
	Message            string    `json:"message,omitempty"`
	PersistenceWarning string    `json:"persistence_warning,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// ChatErrorEvent ends a turn that failed after it started.
type ChatErrorEvent struct {
	Type               string    `json:"type"`
	Engine             string    `json:"engine,omitempty"`
	ConversationID     string    `json:"conversationId,omitempty"`
	Error              string    `json:"error"`
	Message            string    `json:"message"`
	PersistenceWarning string    `json:"persistence_warning,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// ErrorEvent reports a frame that could not be handled at all.
type ErrorEvent struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func now() time.Time { return time.Now().UTC() }

// NewAIStart builds an ai_start event stamped with the current time.
func NewAIStart(engine, conversationID, message string) AIStartEvent {
	return AIStartEvent{Type: EventAIStart, Engine: engine, ConversationID: conversationID, Message: message, Timestamp: now()}
}

// NewAIChunk builds an ai_chunk event stamped with the current time.
func NewAIChunk(chunk string, index int) AIChunkEvent {
	return AIChunkEvent{Type: EventAIChunk, Chunk: chunk, ChunkIndex: index, Timestamp: now()}
}

// NewChatEnd builds a chat_end event stamped with the current time.
func NewChatEnd(engine, conversationID string, chunks, length int) ChatEndEvent {
	return ChatEndEvent{
		Type:           EventChatEnd,
		Engine:         engine,
		ConversationID: conversationID,
		TotalChunks:    chunks,
		ResponseLength: length,
		Message:        "응답 생성이 완료되었습니다.",
		Timestamp:      now(),
	}
}

// NewChatError builds a chat_error event. errText must already be safe to
// show to the caller.
func NewChatError(engine, conversationID, errText string) ChatErrorEvent {
	return ChatErrorEvent{
		Type:           EventChatError,
		Engine:         engine,
		ConversationID: conversationID,
		Error:          errText,
		Message:        errText,
		Timestamp:      now(),
	}
}

// NewError builds an error event.
func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message, Timestamp: now()}
}
