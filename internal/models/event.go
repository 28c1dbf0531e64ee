package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the tagged variant of an Event. The string value is the wire "type".
type EventKind string

const (
	EventLog            EventKind = "log"
	EventAgentStep      EventKind = "agent_step"
	EventAgentCompleted EventKind = "agent_completed"
	EventAgentQuestion  EventKind = "agent_question"
	EventHumanResponse  EventKind = "human_response"
	EventError          EventKind = "error" // Terminal notice sent before a session's producers are torn down
)

// Event is the atomic unit of the bus.
// Events are values: producers build one with NewEvent and never touch it again.
type Event struct {
	Kind      EventKind
	SessionID string // Empty = global-only event
	Timestamp time.Time
	Payload   interface{}
}

// NewEvent stamps a new event with the current time.
func NewEvent(kind EventKind, sessionID string, payload interface{}) Event {
	return Event{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// HasSession reports whether the event is also routed to session-scoped subscribers.
func (e Event) HasSession() bool {
	return e.SessionID != ""
}

// envelope is the wire shape shared by the global and session feeds.
type envelope struct {
	Type EventKind              `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Encode serializes an event into the wire envelope:
//
//	{"type": "<kind>", "data": {...payload fields..., "session_id": "<optional>"}}
func Encode(e Event) ([]byte, error) {
	data := make(map[string]interface{})

	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Kind, err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			// Scalar or array payloads are carried under "value"
			data = map[string]interface{}{"value": json.RawMessage(raw)}
		}
	}

	if e.SessionID != "" {
		data["session_id"] = e.SessionID
	}

	return json.Marshal(envelope{Type: e.Kind, Data: data})
}

// LogCategory classifies a log message for UI rendering
type LogCategory string

const (
	LogCategoryStep     LogCategory = "step"     // Structured progress line
	LogCategoryArtifact LogCategory = "artifact" // A persisted artifact is ready
	LogCategoryMessage  LogCategory = "message"  // Lowest tier: verbatim text
)

// LogMessage is the payload of EventLog
type LogMessage struct {
	Timestamp  string                 `json:"timestamp"`
	Level      string                 `json:"level"`
	LoggerName string                 `json:"logger_name,omitempty"`
	Message    string                 `json:"message"`
	Category   LogCategory            `json:"category,omitempty"`
	Info       string                 `json:"info,omitempty"`
	Path       string                 `json:"path,omitempty"` // Artifact path (category=artifact)
	StepNumber int                    `json:"step_number,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewLogMessage builds a log payload stamped with the current time
func NewLogMessage(level, loggerName, message string) LogMessage {
	return LogMessage{
		Timestamp:  time.Now().Format(time.RFC3339),
		Level:      level,
		LoggerName: loggerName,
		Message:    message,
	}
}

// ActionInfo describes one automation action taken during a step
type ActionInfo struct {
	ActionType  string `json:"action_type"`
	Icon        string `json:"icon"`
	Details     string `json:"details"`
	DisplayName string `json:"display_name"`
}

// BrowserState is a summary of the page the automation engine observed for a step
type BrowserState struct {
	URL                      string   `json:"url"`
	Title                    string   `json:"title"`
	Tabs                     []string `json:"tabs,omitempty"`
	InteractiveElementsCount int      `json:"interactive_elements_count"`
}

// ModelOutput is the planner's reasoning and chosen actions for a step
type ModelOutput struct {
	Thinking   string       `json:"thinking,omitempty"`
	Evaluation string       `json:"evaluation,omitempty"`
	Memory     string       `json:"memory,omitempty"`
	NextGoal   string       `json:"next_goal,omitempty"`
	Actions    []ActionInfo `json:"actions"`
}

// StepUpdate is the payload of EventAgentStep
type StepUpdate struct {
	AgentID      string        `json:"agent_id"`
	StepNumber   int           `json:"step_number"`
	Timestamp    string        `json:"timestamp"`
	URL          string        `json:"url,omitempty"`
	Title        string        `json:"title,omitempty"`
	BrowserState *BrowserState `json:"browser_state,omitempty"`
	ModelOutput  *ModelOutput  `json:"model_output,omitempty"`
}

// Completion is the payload of EventAgentCompleted
type Completion struct {
	AgentID           string      `json:"agent_id"`
	FinalStatus       AgentStatus `json:"final_status"`
	TotalSteps        int         `json:"total_steps"`
	Success           bool        `json:"success"`
	StatusIcon        string      `json:"status_icon"`
	CompletionMessage string      `json:"completion_message"`
}

// Interaction is the payload of EventAgentQuestion and EventHumanResponse
type Interaction struct {
	Timestamp  string `json:"timestamp"`
	AgentID    string `json:"agent_id,omitempty"`
	QuestionID string `json:"question_id"`
	Question   string `json:"question,omitempty"`
	Response   string `json:"response,omitempty"`
	Message    string `json:"message"`
}

// ErrorNotice is the payload of EventError
type ErrorNotice struct {
	Timestamp string `json:"timestamp"`
	AgentID   string `json:"agent_id,omitempty"`
	Message   string `json:"message"`
}
