package messagequeue

// UsageRecordedPayload is the schema for usage.recorded messages.
type UsageRecordedPayload struct {
	UserID       string `json:"user_id"`
	Engine       string `json:"engine"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	OccurredAt   string `json:"occurred_at"`
}

// ChatCompletedPayload is the schema for chat.completed messages.
type ChatCompletedPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Engine         string `json:"engine"`
	TotalChunks    int    `json:"total_chunks"`
	ResponseLength int    `json:"response_length"`
	Attempts       int    `json:"attempts"`
	Valid          bool   `json:"valid"`
}
