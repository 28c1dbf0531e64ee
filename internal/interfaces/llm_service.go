package interfaces

import "context"

// Message roles understood by every LLMService. Any other role is sent as
// user text.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a planner or details conversation.
type Message struct {
	Role    string
	Content string
}

// LLMService completes a conversation. The automation planner and the
// test-case details generator both expect a single text reply, usually JSON.
type LLMService interface {
	// Chat returns the model's reply. System messages become the provider's
	// system prompt and the conversation must end with a user message.
	Chat(ctx context.Context, messages []Message) (string, error)

	// Provider names the backend, "claude" or "gemini".
	Provider() string

	Close() error
}
