package http

import (
	"context"
	"net/http"
	"time"

	"github.com/nexus-tt/nexus/internal/service"
)

// HealthCheck checks one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Limits bounds request handling.
type Limits struct {
	MaxRequestBodySize int64
	HealthTimeout      time.Duration
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Conversations *service.ConversationService
	Engines       *service.EngineService
	Usage         *service.UsageService
	Checks        map[string]HealthCheck
	Limits        Limits
}

func (h *Handlers) bodyLimit() int64 {
	if h.Limits.MaxRequestBodySize > 0 {
		return h.Limits.MaxRequestBodySize
	}
	return maxRequestBodySize
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health. It reports 503 when any dependency check fails.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	timeout := h.Limits.HealthTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.Checks) > 0 {
		resp.Checks = make(map[string]string, len(h.Checks))
	}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}
