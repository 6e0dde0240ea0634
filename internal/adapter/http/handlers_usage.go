package http

import "net/http"

// GetUsage handles GET /api/v1/usage/{userId}
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	sums, err := h.Usage.List(r.Context(), urlParam(r, "userId"))
	if err != nil {
		writeDomainError(w, err, "usage not found")
		return
	}
	writeJSON(w, http.StatusOK, sums)
}
