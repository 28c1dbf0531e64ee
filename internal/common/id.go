package common

import (
	"strings"

	"github.com/google/uuid"
)

// shortID returns the first 8 hex characters of a random UUID
func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// NewSessionID generates a session ID. Format: session_<8 hex>
func NewSessionID() string {
	return "session_" + shortID()
}

// NewAgentID generates an agent ID. Format: agent_<8 hex>
func NewAgentID() string {
	return "agent_" + shortID()
}

// NewQuestionID generates an ID for an ask_human question. Format: q_<8 hex>
func NewQuestionID() string {
	return "q_" + shortID()
}

// ShortID exposes the 8-character id used in artifact file names
func ShortID() string {
	return shortID()
}

// IsSessionID reports whether id has the session ID format
func IsSessionID(id string) bool {
	return strings.HasPrefix(id, "session_") && len(id) > len("session_")
}
