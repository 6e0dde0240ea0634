package http

import (
	"net/http"

	"github.com/nexus-tt/nexus/internal/domain/engine"
)

// GetPrompt handles GET /api/v1/prompts/{engine}
func (h *Handlers) GetPrompt(w http.ResponseWriter, r *http.Request) {
	sel, ok := engineParam(w, r)
	if !ok {
		return
	}
	p, err := h.Engines.Load(r.Context(), sel)
	if err != nil {
		writeDomainError(w, err, "no prompt configured for engine "+string(sel))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutPrompt handles PUT /api/v1/prompts/{engine}
func (h *Handlers) PutPrompt(w http.ResponseWriter, r *http.Request) {
	sel, ok := engineParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[engine.ProfileRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	p, err := h.Engines.PutProfile(r.Context(), sel, req)
	if err != nil {
		writeDomainError(w, err, "engine not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
