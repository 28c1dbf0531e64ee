package interfaces

import "github.com/ternarybob/agentstream/internal/models"

// EventPublisher is the producer side of the event bus.
// Publish never blocks and never reports failure; a full or closed bus drops the event.
type EventPublisher interface {
	Publish(event models.Event)
}

// Connection is an observer endpoint. Implementations are compared by identity,
// so they must be pointer types.
type Connection interface {
	// Send delivers one encoded event. A returned error marks the connection dead.
	Send(data []byte) error

	// Close releases the transport. It must be safe to call more than once.
	Close() error
}

// SessionLogGate decides which sessions may still receive republished log
// entries. A session is closed just before its agent_completed event so
// nothing from the logger trails the terminal event.
type SessionLogGate interface {
	OpenSession(sessionID string)
	CloseSession(sessionID string)
}
