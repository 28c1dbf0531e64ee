package models

import (
	"time"
)

// AgentState represents the lifecycle state of one agent session
type AgentState string

const (
	AgentStateIdle      AgentState = "idle"
	AgentStateRunning   AgentState = "running"
	AgentStatePaused    AgentState = "paused"
	AgentStateStopped   AgentState = "stopped"
	AgentStateCompleted AgentState = "completed"
	AgentStateError     AgentState = "error"
)

// transitions lists every legal edge of the agent state machine.
//
//	idle    -> running
//	running -> paused | stopped | completed | error
//	paused  -> running | stopped
var transitions = map[AgentState][]AgentState{
	AgentStateIdle:    {AgentStateRunning},
	AgentStateRunning: {AgentStatePaused, AgentStateStopped, AgentStateCompleted, AgentStateError},
	AgentStatePaused:  {AgentStateRunning, AgentStateStopped},
}

// CanTransition reports whether moving from one state to another is legal
func CanTransition(from, to AgentState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states with no outgoing transitions
func (s AgentState) IsTerminal() bool {
	return s == AgentStateStopped || s == AgentStateCompleted || s == AgentStateError
}

// IsActive returns true while the session still owns its run (running or paused)
func (s AgentState) IsActive() bool {
	return s == AgentStateRunning || s == AgentStatePaused
}

// AgentStatus is a point-in-time snapshot of a session's lifecycle
type AgentStatus struct {
	AgentID     string                 `json:"agent_id"`
	SessionID   string                 `json:"session_id"`
	State       AgentState             `json:"status"`
	CurrentStep int                    `json:"current_step"`
	Task        string                 `json:"task_description"`
	StartedAt   time.Time              `json:"started_at"`
	LastUpdate  time.Time              `json:"last_update"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SessionResources is the bag of external resources held by a session until it terminates
type SessionResources struct {
	DebugPort         int      `json:"debug_port,omitempty"`
	CapturedSelectors []string `json:"captured_selectors,omitempty"` // Accumulated while paused, merged into the task on resume
	Artifacts         []string `json:"artifacts,omitempty"`          // Paths announced by the engine
}

// AgentRun is the persisted record of one session.
// Status is updated at every transition; the record outlives the in-memory session.
type AgentRun struct {
	SessionID    string      `json:"session_id" badgerhold:"key"`
	AgentID      string      `json:"agent_id"`
	Task         string      `json:"task"`
	State        AgentState  `json:"status" badgerhold:"index"`
	TotalSteps   int         `json:"total_steps"`
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"error,omitempty"`
	Artifacts    []string    `json:"artifacts,omitempty"`
	History      *RunHistory `json:"history,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// ControlAction is an operator request against a running session
type ControlAction string

const (
	ControlPause  ControlAction = "pause"
	ControlResume ControlAction = "resume"
	ControlStop   ControlAction = "stop"
	ControlUpdate ControlAction = "update"
)

// Valid returns true for the known control actions
func (a ControlAction) Valid() bool {
	switch a {
	case ControlPause, ControlResume, ControlStop, ControlUpdate:
		return true
	}
	return false
}
