package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/interfaces"
)

// GeminiService plans browser steps with the Gemini API.
type GeminiService struct {
	model       string
	temperature float32
	timeout     time.Duration
	client      *genai.Client
	retry       *RetryPolicy
	logger      arbor.ILogger
}

// NewGeminiService resolves the API key (environment first, then
// gemini.api_key) and builds the client.
func NewGeminiService(ctx context.Context, cfg *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	apiKey, err := common.ResolveAPIKey("gemini_api_key", cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("gemini: set GEMINI_API_KEY, AGENTSTREAM_GEMINI_API_KEY or gemini.api_key: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	s := &GeminiService{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     common.ParseDuration(cfg.Timeout, 5*time.Minute),
		client:      client,
		retry:       NewDefaultRetryPolicy(),
		logger:      logger,
	}
	if s.model == "" {
		s.model = "gemini-2.5-flash"
	}

	logger.Debug().
		Str("model", s.model).
		Dur("timeout", s.timeout).
		Msg("Gemini planner client ready")

	return s, nil
}

func (s *GeminiService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	return chat(ctx, s.logger, s.Provider(), s.timeout, s.retry, messages, s.complete)
}

func (s *GeminiService) Provider() string {
	return string(common.LLMProviderGemini)
}

func (s *GeminiService) Close() error {
	s.client = nil
	return nil
}

// geminiContents maps a normalized conversation onto Gemini contents
func geminiContents(conv *conversation) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(conv.turns))
	for _, t := range conv.turns {
		r := genai.Role(genai.RoleUser)
		if t.role == roleAssistant {
			r = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.text, r))
	}

	config := &genai.GenerateContentConfig{}
	if conv.system != "" {
		config.SystemInstruction = genai.NewContentFromText(conv.system, genai.RoleUser)
	}
	return contents, config
}

func (s *GeminiService) complete(ctx context.Context, conv *conversation) (string, usage, error) {
	contents, config := geminiContents(conv)
	config.Temperature = genai.Ptr(s.temperature)

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return "", usage{}, fmt.Errorf("gemini generate call failed: %w", err)
	}
	if resp == nil {
		return "", usage{}, fmt.Errorf("gemini returned an empty response")
	}

	var used usage
	if resp.UsageMetadata != nil {
		used.inputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		used.outputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	// First candidate with text wins
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() == 0 {
			continue
		}
		if candidate.FinishReason == genai.FinishReasonMaxTokens {
			return "", used, fmt.Errorf("gemini (%d output tokens): %w", used.outputTokens, ErrTruncated)
		}
		return text.String(), used, nil
	}

	return "", used, fmt.Errorf("gemini returned no text content")
}
