package handlers

import (
	"net/http"
	"time"

	"github.com/agentstation/zenginsync/internal/server/response"
)

// HandleHealth handles GET /health for liveness checks.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "zengin-sync",
		"version": h.version,
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}
