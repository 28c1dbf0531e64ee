package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/models"
	"github.com/ternarybob/agentstream/internal/services/agents"
	"github.com/ternarybob/agentstream/internal/services/testcases"
)

// StartAgentRequest is the body of POST /api/agent/start and POST /api/run-browser-task
type StartAgentRequest struct {
	SessionID   string              `json:"session_id" validate:"omitempty,max=128,excludesall=/ "`
	Task        string              `json:"task" validate:"required_without=TestCase"`
	TestCase    *models.TestCase    `json:"test_case"`
	URL         string              `json:"url" validate:"omitempty,url"`
	Credentials *agents.Credentials `json:"credentials"`
	MaxSteps    int                 `json:"max_steps" validate:"gte=0,lte=1000"`
	Headless    *bool               `json:"headless"`
}

func (r StartAgentRequest) toStartRequest() agents.StartRequest {
	return agents.StartRequest{
		SessionID:   r.SessionID,
		Task:        r.Task,
		TestCase:    r.TestCase,
		URL:         r.URL,
		Credentials: r.Credentials,
		MaxSteps:    r.MaxSteps,
		Headless:    r.Headless,
	}
}

// ControlRequest is the body of POST /api/agent/control
type ControlRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Action    string `json:"action" validate:"required"`
	Task      string `json:"task"`
}

// SelectorsRequest is the body of POST /api/agent/{session_id}/selectors
type SelectorsRequest struct {
	Selectors []string `json:"selectors" validate:"required,min=1,dive,required"`
}

// AnswerRequest is the body of POST /api/agent/{session_id}/answer
type AnswerRequest struct {
	QuestionID string `json:"question_id"`
	Response   string `json:"response" validate:"required"`
}

// AgentHandler serves the agent lifecycle API
type AgentHandler struct {
	manager AgentManager
	details DetailsGenerator
	logger  arbor.ILogger
}

func NewAgentHandler(manager AgentManager, details DetailsGenerator, logger arbor.ILogger) *AgentHandler {
	return &AgentHandler{
		manager: manager,
		details: details,
		logger:  logger,
	}
}

// StartHandler serves POST /api/agent/start
func (h *AgentHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req StartAgentRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.manager.Start(r.Context(), req.toStartRequest())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to start agent")
		writeStartError(w, err)
		return
	}

	h.logger.Info().
		Str("session_id", result.SessionID).
		Str("agent_id", result.AgentID).
		Msg("Agent started")

	WriteSuccess(w, CodeAgentStarted, result)
}

// ControlHandler serves POST /api/agent/control
func (h *AgentHandler) ControlHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req ControlRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	action := models.ControlAction(strings.ToLower(req.Action))
	if !action.Valid() {
		WriteError(w, http.StatusBadRequest, agents.CodeInvalidAction, "action must be one of pause, resume, stop, update")
		return
	}

	result := h.manager.Control(req.SessionID, action, req.Task)
	if result.Error {
		status := http.StatusBadRequest
		if result.Code == agents.CodeSessionMissing {
			status = http.StatusNotFound
		}
		WriteError(w, status, result.Code, "")
		return
	}

	// An action refused by the state machine is still a well-formed answer
	WriteJSON(w, http.StatusOK, Envelope{Error: !result.Success, Msg: result.Code, Data: result})
}

// StatusHandler serves GET /api/agent/{session_id}/status
func (h *AgentHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sessionID := PathParam(r.URL.Path, "/api/agent/")
	status, err := h.manager.Status(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	WriteSuccess(w, CodeStatusRetrieved, status)
}

// ListHandler serves GET /api/agents
func (h *AgentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	statuses := h.manager.List()
	WriteSuccess(w, CodeAllStatusesRetrieved, map[string]interface{}{
		"agents": statuses,
		"count":  len(statuses),
	})
}

// HistoryHandler serves GET /api/agents/history?limit=N
func (h *AgentHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runs, err := h.manager.History(r.Context(), QueryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list agent runs")
		WriteError(w, http.StatusInternalServerError, CodeUnexpectedError, err.Error())
		return
	}

	// History is bulky; the listing carries the summary only. Copies keep
	// the manager's records intact.
	summaries := make([]*models.AgentRun, 0, len(runs))
	for _, run := range runs {
		summary := *run
		summary.History = nil
		summaries = append(summaries, &summary)
	}

	WriteSuccess(w, CodeHistoryRetrieved, map[string]interface{}{
		"runs":  summaries,
		"count": len(summaries),
	})
}

// DeleteHandler serves DELETE /api/agent/{session_id}
func (h *AgentHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	sessionID := PathParam(r.URL.Path, "/api/agent/")
	if err := h.manager.Delete(r.Context(), sessionID); err != nil {
		writeSessionError(w, err)
		return
	}

	WriteSuccess(w, CodeAgentDeleted, map[string]string{"session_id": sessionID})
}

// SelectorsHandler serves POST /api/agent/{session_id}/selectors
func (h *AgentHandler) SelectorsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req SelectorsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	sessionID := PathParam(r.URL.Path, "/api/agent/")
	total, err := h.manager.CaptureSelectors(sessionID, req.Selectors)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	WriteSuccess(w, CodeSelectorsCaptured, map[string]interface{}{
		"session_id": sessionID,
		"captured":   total,
	})
}

// AnswerHandler serves POST /api/agent/{session_id}/answer
func (h *AgentHandler) AnswerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req AnswerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	sessionID := PathParam(r.URL.Path, "/api/agent/")
	if err := h.manager.Answer(sessionID, req.QuestionID, req.Response); err != nil {
		if errors.Is(err, models.ErrNoPendingQuestion) {
			WriteError(w, http.StatusConflict, CodeNoPendingQuestion, err.Error())
			return
		}
		writeSessionError(w, err)
		return
	}

	WriteSuccess(w, CodeResponseDelivered, map[string]string{
		"session_id":  sessionID,
		"question_id": req.QuestionID,
	})
}

// DetailsHandler serves POST /api/agent/details
func (h *AgentHandler) DetailsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if h.details == nil {
		WriteError(w, http.StatusServiceUnavailable, CodeUnexpectedError, "no LLM provider is configured")
		return
	}

	var req testcases.DetailsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	details, err := h.details.Generate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidRequest):
			WriteError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		case errors.Is(err, models.ErrResponseParsing):
			WriteError(w, http.StatusBadGateway, CodeResponseParsingFailed, err.Error())
		default:
			h.logger.Error().Err(err).Msg("Failed to generate test case details")
			WriteError(w, http.StatusInternalServerError, CodeUnexpectedError, err.Error())
		}
		return
	}

	WriteSuccess(w, CodeDetailsGenerated, details)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, CodeSessionNotFound, "")
	case errors.Is(err, models.ErrInvalidState):
		WriteError(w, http.StatusConflict, CodeInvalidState, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, CodeUnexpectedError, err.Error())
	}
}

func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, models.ErrAlreadyStarted):
		WriteError(w, http.StatusConflict, CodeInvalidState, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, CodeUnexpectedError, err.Error())
	}
}
