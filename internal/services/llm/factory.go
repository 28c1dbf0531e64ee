package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/interfaces"
)

// NewLLMService creates the completion client selected by llm.default_provider
func NewLLMService(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	logger.Info().Str("provider", string(cfg.LLM.DefaultProvider)).Msg("Initializing LLM service")

	switch cfg.LLM.DefaultProvider {
	case common.LLMProviderClaude, "":
		service, err := NewClaudeService(&cfg.Claude, logger)
		if err != nil {
			return nil, err
		}
		return service, nil
	case common.LLMProviderGemini:
		service, err := NewGeminiService(ctx, &cfg.Gemini, logger)
		if err != nil {
			return nil, err
		}
		return service, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.DefaultProvider)
	}
}

// unavailableService fails every call with the reason the provider could not be created
type unavailableService struct {
	reason error
}

// Unavailable returns a service whose calls fail with reason. Runs started without a
// configured provider then end in the error state instead of the server refusing to boot.
func Unavailable(reason error) interfaces.LLMService {
	if reason == nil {
		reason = fmt.Errorf("no LLM provider configured")
	}
	return &unavailableService{reason: reason}
}

func (s *unavailableService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	return "", fmt.Errorf("LLM service unavailable: %w", s.reason)
}

func (s *unavailableService) Provider() string {
	return "unavailable"
}

func (s *unavailableService) Close() error {
	return nil
}
