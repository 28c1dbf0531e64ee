package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/services/events"
)

type APIHandler struct {
	registry *events.Registry
	logger   arbor.ILogger
}

func NewAPIHandler(registry *events.Registry, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		registry: registry,
		logger:   logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, common.CurrentBuild())
}

// HealthHandler returns health check status with the current observer counts
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	global, sessions := 0, 0
	if h.registry != nil {
		global, sessions = h.registry.Counts()
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"global_connections": global,
		"session_feeds":      sessions,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, CodeInvalidRequest, "no endpoint at "+r.URL.Path)
}
