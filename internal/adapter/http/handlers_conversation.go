package http

import (
	"net/http"
	"time"

	"github.com/nexus-tt/nexus/internal/domain/conversation"
	"github.com/nexus-tt/nexus/internal/domain/engine"
)

// conversationView is the wire shape of a conversation. Messages carry both
// "role" and "type" for older clients.
type conversationView struct {
	ID        string                       `json:"conversationId"`
	UserID    string                       `json:"userId"`
	Engine    engine.Selector              `json:"engineType"`
	Title     string                       `json:"title"`
	Messages  []conversation.LegacyMessage `json:"messages"`
	Metadata  map[string]any               `json:"metadata,omitempty"`
	CreatedAt time.Time                    `json:"createdAt"`
	UpdatedAt time.Time                    `json:"updatedAt"`
}

// conversationSummary is a list entry; messages are omitted.
type conversationSummary struct {
	ID           string          `json:"conversationId"`
	Engine       engine.Selector `json:"engineType"`
	Title        string          `json:"title"`
	MessageCount int             `json:"messageCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func toView(c *conversation.Conversation) conversationView {
	msgs := make([]conversation.LegacyMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, conversation.ToLegacy(m))
	}
	return conversationView{
		ID:        c.ID,
		UserID:    c.UserID,
		Engine:    c.Engine,
		Title:     c.Title,
		Messages:  msgs,
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// ListConversations handles GET /api/v1/conversations?userId=&engineType=&limit=
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if !requireField(w, userID, "userId") {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	convs, err := h.Conversations.List(r.Context(), userID, q.Get("engineType"), limit)
	if err != nil {
		writeDomainError(w, err, "conversations not found")
		return
	}
	out := make([]conversationSummary, 0, len(convs))
	for i := range convs {
		c := &convs[i]
		out = append(out, conversationSummary{
			ID:           c.ID,
			Engine:       c.Engine,
			Title:        c.Title,
			MessageCount: len(c.Messages),
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetConversation handles GET /api/v1/conversations/{id}
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Conversations.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, toView(conv))
}

// SaveConversation handles POST /api/v1/conversations and
// PUT /api/v1/conversations/{id}. The whole message list is replaced.
func (h *Handlers) SaveConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[conversation.SaveRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if id := urlParam(r, "id"); id != "" {
		req.ConversationID = id
	}
	conv, err := h.Conversations.Save(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, toView(conv))
}

// RenameConversation handles PATCH /api/v1/conversations/{id}
func (h *Handlers) RenameConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[conversation.TitleRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if err := h.Conversations.Rename(r.Context(), urlParam(r, "id"), req); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
