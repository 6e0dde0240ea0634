package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the REST API, the health check and, when chat is
// non-nil, the chat WebSocket endpoint on r.
func MountRoutes(r chi.Router, h *Handlers, chat http.Handler) {
	r.Get("/health", h.Health)

	if chat != nil {
		r.Handle("/ws", chat)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"1.0.0"}`))
		})

		// Conversations
		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations", h.SaveConversation)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Put("/conversations/{id}", h.SaveConversation)
		r.Patch("/conversations/{id}", h.RenameConversation)
		r.Delete("/conversations/{id}", handleDelete(h.Conversations.Delete, "conversation not found"))

		// Engine prompts and knowledge files
		r.Get("/prompts/{engine}", h.GetPrompt)
		r.Put("/prompts/{engine}", h.PutPrompt)
		r.Get("/prompts/{engine}/files", handleEngineList(h.Engines.ListFiles, "engine not found"))
		r.Post("/prompts/{engine}/files", handleEngineCreate(h.bodyLimit(), h.Engines.AddFile))
		r.Put("/prompts/{engine}/files/{fileId}", handleEngineUpdate(h.bodyLimit(), "fileId", h.Engines.UpdateFile, "knowledge file not found"))
		r.Delete("/prompts/{engine}/files/{fileId}", handleEngineDelete("fileId", h.Engines.DeleteFile, "knowledge file not found"))

		// Usage
		r.Get("/usage/{userId}", h.GetUsage)
	})
}
