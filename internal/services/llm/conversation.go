package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/interfaces"
)

// ErrTruncated is returned when the model stopped at its output token limit.
// Planner replies are JSON, so a cut-off reply is unusable.
var ErrTruncated = errors.New("completion truncated at max tokens")

type role int

const (
	roleUser role = iota
	roleAssistant
)

// turn is one provider-neutral conversation entry
type turn struct {
	role role
	text string
}

// conversation is a normalized message list: every system message lifted
// into one prompt, consecutive turns of the same role merged, ending on a
// user turn. Both providers reject conversations that break these rules.
type conversation struct {
	system string
	turns  []turn
}

func newConversation(messages []interfaces.Message) (*conversation, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	conv := &conversation{}
	var system []string
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}

		r := roleUser
		switch msg.Role {
		case interfaces.RoleSystem:
			system = append(system, msg.Content)
			continue
		case interfaces.RoleAssistant, "model":
			r = roleAssistant
		}

		if n := len(conv.turns); n > 0 && conv.turns[n-1].role == r {
			conv.turns[n-1].text += "\n\n" + msg.Content
			continue
		}
		conv.turns = append(conv.turns, turn{role: r, text: msg.Content})
	}

	if len(conv.turns) == 0 || conv.turns[len(conv.turns)-1].role != roleUser {
		return nil, fmt.Errorf("conversation must end with a 'user' message")
	}

	conv.system = strings.Join(system, "\n\n")
	return conv, nil
}

// usage is what each provider reports back for logging
type usage struct {
	inputTokens  int64
	outputTokens int64
}

type completeFunc func(ctx context.Context, conv *conversation) (string, usage, error)

// chat runs one completion with the per-call timeout and retry policy
// shared by both providers.
func chat(ctx context.Context, logger arbor.ILogger, provider string, timeout time.Duration, retry *RetryPolicy, messages []interfaces.Message, complete completeFunc) (string, error) {
	conv, err := newConversation(messages)
	if err != nil {
		return "", fmt.Errorf("invalid %s conversation: %w", provider, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var used usage
	startTime := time.Now()
	response, err := retry.Do(timeoutCtx, logger, provider, func(ctx context.Context) (string, error) {
		text, u, err := complete(ctx, conv)
		used = u
		return text, err
	})
	if err != nil {
		logger.Error().
			Err(err).
			Str("provider", provider).
			Int("turns", len(conv.turns)).
			Msg("Chat completion failed")
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	logger.Debug().
		Str("provider", provider).
		Int("turns", len(conv.turns)).
		Int64("input_tokens", used.inputTokens).
		Int64("output_tokens", used.outputTokens).
		Int("response_length", len(response)).
		Dur("duration", time.Since(startTime)).
		Msg("Chat completion finished")

	return response, nil
}
