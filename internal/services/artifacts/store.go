// Package artifacts writes the files derived from a finished run: the raw
// history, a cleaned copy without screenshots or coordinates, and the
// interacted-elements summary handed to observers.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/models"
)

// Store lays out artifacts as <root>/<session_id>/<base>_<timestamp>_<id>.json
type Store struct {
	root   string
	logger arbor.ILogger
	now    func() time.Time
}

// NewStore creates a store rooted at dir
func NewStore(dir string, logger arbor.ILogger) *Store {
	return &Store{root: dir, logger: logger, now: time.Now}
}

// Root returns the artifacts directory
func (s *Store) Root() string {
	return s.root
}

// UniqueFilename returns base_<YYYYmmdd_HHMMSS>_<8 hex>.ext
func UniqueFilename(base, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s.%s", base, now.Format("20060102_150405"), common.ShortID(), strings.TrimPrefix(ext, "."))
}

// SaveRunArtifacts writes the history, its cleaned copy and the extracted
// elements for one session. It returns the elements file path.
func (s *Store) SaveRunArtifacts(sessionID string, history *models.RunHistory) (string, error) {
	if history == nil {
		return "", fmt.Errorf("no history to save for session %s", sessionID)
	}

	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}

	now := s.now()
	historyPath := filepath.Join(dir, UniqueFilename("conversation_temp", "json", now))
	cleanedPath := filepath.Join(dir, UniqueFilename("conversation_cleaned", "json", now))
	elementsPath := filepath.Join(dir, UniqueFilename("elements", "json", now))

	if err := SaveHistory(historyPath, history); err != nil {
		return "", err
	}
	if err := CleanHistory(historyPath, cleanedPath); err != nil {
		return "", err
	}
	if err := ExtractInteractedElements(cleanedPath, elementsPath); err != nil {
		return "", err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("elements", elementsPath).
		Int("steps", history.TotalSteps()).
		Msg("Run artifacts saved")
	return elementsPath, nil
}

// Resolve maps a caller-supplied artifact path to a file inside the store.
// Relative paths are taken from the root; anything escaping it is rejected.
func (s *Store) Resolve(path string) (string, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: artifact path %q is outside %s", models.ErrInvalidRequest, path, s.root)
	}
	return candidate, nil
}

// SaveHistory writes the run history as indented JSON
func SaveHistory(path string, history *models.RunHistory) error {
	return writeJSON(path, history)
}

// CleanHistory blanks screenshots and element coordinates. It works on the raw
// JSON so fields unknown to RunHistory survive.
func CleanHistory(inputPath, outputPath string) error {
	doc, err := readJSON(inputPath)
	if err != nil {
		return err
	}

	for _, entry := range objects(doc["history"]) {
		state, ok := entry["state"].(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := state["screenshot"]; ok {
			state["screenshot"] = ""
		}
		for _, element := range objects(state["interacted_element"]) {
			element["page_coordinates"] = map[string]interface{}{}
			element["viewport_coordinates"] = map[string]interface{}{}
			element["viewport_info"] = map[string]interface{}{}
		}
	}

	return writeJSON(outputPath, doc)
}

// elementFields are kept per interacted element
var elementFields = []string{"tag_name", "xpath", "attributes", "css_selector", "entire_parent_branch_path"}

// ExtractInteractedElements writes {"extracted_data": [...]} with, per step, the
// planner state, its actions, the interacted elements and the action results.
func ExtractInteractedElements(cleanedPath, elementsPath string) error {
	doc, err := readJSON(cleanedPath)
	if err != nil {
		return err
	}

	extracted := make([]map[string]interface{}, 0)
	for _, entry := range objects(doc["history"]) {
		modelOutput, _ := entry["model_output"].(map[string]interface{})

		currentState := modelOutput["current_state"]
		if currentState == nil {
			currentState = map[string]interface{}{}
		}
		action := modelOutput["action"]
		if action == nil {
			action = []interface{}{}
		}
		result := entry["result"]
		if result == nil {
			result = []interface{}{}
		}

		var elements []interface{}
		if state, ok := entry["state"].(map[string]interface{}); ok {
			for _, element := range objects(state["interacted_element"]) {
				kept := make(map[string]interface{}, len(elementFields))
				for _, field := range elementFields {
					kept[field] = element[field]
				}
				elements = append(elements, kept)
			}
		}
		if elements == nil {
			elements = []interface{}{}
		}

		extracted = append(extracted, map[string]interface{}{
			"current_state":       currentState,
			"action":              action,
			"interacted_elements": elements,
			"result":              result,
		})
	}

	return writeJSON(elementsPath, map[string]interface{}{"extracted_data": extracted})
}

// ReadFile returns the raw contents of an artifact
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return data, nil
}

func readJSON(path string) (map[string]interface{}, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// writeJSON replaces path atomically
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// objects returns the JSON objects of a list, skipping anything else
func objects(v interface{}) []map[string]interface{} {
	list, _ := v.([]interface{})
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	return out
}
