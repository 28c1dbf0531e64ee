package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/interfaces"
)

const defaultClaudeMaxTokens = 8192

// ClaudeService plans browser steps with the Anthropic Messages API.
type ClaudeService struct {
	model       string
	temperature float32
	maxTokens   int64
	timeout     time.Duration
	client      anthropic.Client
	retry       *RetryPolicy
	logger      arbor.ILogger
}

// NewClaudeService resolves the API key (environment first, then
// claude.api_key) and builds the client.
func NewClaudeService(cfg *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	apiKey, err := common.ResolveAPIKey("anthropic_api_key", cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("claude: set ANTHROPIC_API_KEY, AGENTSTREAM_CLAUDE_API_KEY or claude.api_key: %w", err)
	}

	timeout := common.ParseDuration(cfg.Timeout, 5*time.Minute)

	s := &ClaudeService{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int64(cfg.MaxTokens),
		timeout:     timeout,
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		retry:       NewDefaultRetryPolicy(),
		logger:      logger,
	}
	if s.model == "" {
		s.model = "claude-sonnet-4-20250514"
	}
	if s.maxTokens <= 0 {
		s.maxTokens = defaultClaudeMaxTokens
	}

	logger.Debug().
		Str("model", s.model).
		Int64("max_tokens", s.maxTokens).
		Dur("timeout", timeout).
		Msg("Claude planner client ready")

	return s, nil
}

func (s *ClaudeService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	return chat(ctx, s.logger, s.Provider(), s.timeout, s.retry, messages, s.complete)
}

func (s *ClaudeService) Provider() string {
	return string(common.LLMProviderClaude)
}

func (s *ClaudeService) Close() error {
	return nil
}

// claudeParams maps a normalized conversation onto a Messages request
func (s *ClaudeService) claudeParams(conv *conversation) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(conv.turns)),
	}
	for _, t := range conv.turns {
		block := anthropic.NewTextBlock(t.text)
		if t.role == roleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	if conv.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: conv.system}}
	}
	if s.temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.temperature))
	}
	return params
}

func (s *ClaudeService) complete(ctx context.Context, conv *conversation) (string, usage, error) {
	resp, err := s.client.Messages.New(ctx, s.claudeParams(conv))
	if err != nil {
		return "", usage{}, fmt.Errorf("claude messages call failed: %w", err)
	}

	used := usage{inputTokens: resp.Usage.InputTokens, outputTokens: resp.Usage.OutputTokens}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if string(resp.StopReason) == "max_tokens" {
		return "", used, fmt.Errorf("claude (%d output tokens): %w", used.outputTokens, ErrTruncated)
	}
	if text.Len() == 0 {
		return "", used, fmt.Errorf("claude returned no text content")
	}
	return text.String(), used, nil
}
