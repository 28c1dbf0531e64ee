// Package testcases turns the history of an executed run into detailed steps,
// BDD steps and a revised version of the test case that was executed.
package testcases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/models"
	"github.com/ternarybob/agentstream/internal/services/artifacts"
)

// DetailsRequest is the body of POST /api/agent/details
type DetailsRequest struct {
	HistoryPath string            `json:"agents_history" validate:"required"`
	TestCases   json.RawMessage   `json:"testCases" validate:"required"`
	URL         string            `json:"url" validate:"omitempty,url"`
	Credentials map[string]string `json:"credentials"`
}

// Generator asks the configured LLM to document an executed test case
type Generator struct {
	llm       interfaces.LLMService
	artifacts *artifacts.Store
	logger    arbor.ILogger
}

// NewGenerator creates a generator reading histories from store
func NewGenerator(llm interfaces.LLMService, store *artifacts.Store, logger arbor.ILogger) *Generator {
	return &Generator{llm: llm, artifacts: store, logger: logger}
}

// Generate reads the history artifact, prompts the model and parses its reply.
// A path outside the artifacts directory or an unreadable history returns
// models.ErrInvalidRequest; an unusable reply returns models.ErrResponseParsing.
func (g *Generator) Generate(ctx context.Context, req DetailsRequest) (*models.TestCaseDetails, error) {
	path, err := g.artifacts.Resolve(req.HistoryPath)
	if err != nil {
		return nil, err
	}

	history, err := loadHistory(path)
	if err != nil {
		return nil, err
	}

	user := fmt.Sprintf(detailsUserPrompt, history, renderTestCase(req.TestCases))
	if req.URL != "" {
		user += "\nApplication URL: " + req.URL
	}

	start := time.Now()
	response, err := g.llm.Chat(ctx, []interfaces.Message{
		{Role: interfaces.RoleSystem, Content: detailsSystemPrompt},
		{Role: interfaces.RoleUser, Content: user},
	})
	if err != nil {
		return nil, fmt.Errorf("details completion failed: %w", err)
	}

	details, err := ParseDetails(response)
	if err != nil {
		g.logger.Error().
			Err(err).
			Str("history", path).
			Int("response_length", len(response)).
			Msg("Failed to parse details response")
		return nil, err
	}

	g.logger.Info().
		Str("history", path).
		Str("provider", g.llm.Provider()).
		Dur("duration", time.Since(start)).
		Msg("Test case details generated")

	return details, nil
}

// ParseDetails extracts the details object from a model reply. Markdown fences
// and text around the object are tolerated, and list-of-list values are
// flattened one level.
func ParseDetails(response string) (*models.TestCaseDetails, error) {
	body := cleanMarkdownFences(response)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrResponseParsing, err)
	}

	return &models.TestCaseDetails{
		DetailsSteps:    flattenOnce(raw["detailsSteps"]),
		BDDSteps:        flattenOnce(raw["bddSteps"]),
		RevisedTestCase: flattenOnce(raw["revisedTestCase"]),
		TestCaseID:      raw["testCaseId"],
	}, nil
}

var fencePattern = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// cleanMarkdownFences removes a surrounding ```json block
func cleanMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}
	return strings.TrimSpace(s)
}

// flattenOnce joins a non-empty list whose items are all lists
func flattenOnce(v interface{}) interface{} {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return v
	}

	flat := make([]interface{}, 0, len(list))
	for _, item := range list {
		inner, ok := item.([]interface{})
		if !ok {
			return v
		}
		flat = append(flat, inner...)
	}
	return flat
}

func loadHistory(path string) (string, error) {
	data, err := artifacts.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("%w: history %s is not valid JSON", models.ErrInvalidRequest, path)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return compact.String(), nil
}

// renderTestCase passes strings through unquoted and anything else as JSON
func renderTestCase(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
