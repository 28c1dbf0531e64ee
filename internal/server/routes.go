// -----------------------------------------------------------------------
// Last Modified: Monday, 21st September 2026 3:33:02 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket feeds
	mux.HandleFunc("/ws/logs", s.app.WSHandler.HandleGlobal)
	mux.HandleFunc("/ws/session/", s.app.WSHandler.HandleSession) // /ws/session/{session_id}/logs

	// API routes - Agents
	mux.HandleFunc("/api/agent/start", s.app.AgentHandler.StartHandler)             // POST
	mux.HandleFunc("/api/agent/control", s.app.AgentHandler.ControlHandler)         // POST
	mux.HandleFunc("/api/agent/details", s.app.AgentHandler.DetailsHandler)         // POST
	mux.HandleFunc("/api/agent/", s.handleAgentRoutes)                              // /{session_id}[/status|/stream|/selectors|/answer]
	mux.HandleFunc("/api/agents/history", s.app.AgentHandler.HistoryHandler)        // GET
	mux.HandleFunc("/api/agents", s.app.AgentHandler.ListHandler)                   // GET
	mux.HandleFunc("/api/run-browser-task", s.app.SSEHandler.RunBrowserTaskHandler) // POST, SSE response

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	// 404 handler for unmatched API routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleAgentRoutes routes /api/agent/{session_id}[/{action}] requests
func (s *Server) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	h := s.app.AgentHandler

	actions := sessionActions{
		"":          {http.MethodGet: h.StatusHandler, http.MethodDelete: h.DeleteHandler},
		"status":    {http.MethodGet: h.StatusHandler},
		"stream":    {http.MethodGet: s.app.SSEHandler.StreamHandler},
		"selectors": {http.MethodPost: h.SelectorsHandler},
		"answer":    {http.MethodPost: h.AnswerHandler},
	}
	if !actions.serve(w, r, "/api/agent/") {
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
