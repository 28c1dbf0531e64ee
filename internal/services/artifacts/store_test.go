package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/models"
)

func sampleHistory() *models.RunHistory {
	success := true
	return &models.RunHistory{History: []models.HistoryItem{
		{
			StepNumber: 1,
			ModelOutput: &models.HistoryModelOutput{
				CurrentState: models.CurrentState{NextGoal: "open login"},
				Action:       []map[string]interface{}{{"click_element": map[string]interface{}{"index": 3}}},
			},
			State: models.HistoryState{
				URL:        "https://example.com",
				Screenshot: "iVBORw0KGgo=",
				InteractedElement: []models.InteractedElement{{
					TagName:                "button",
					XPath:                  "/html/body/button",
					CSSSelector:            "button#login",
					Attributes:             map[string]string{"id": "login"},
					EntireParentBranchPath: []string{"html", "body", "button"},
					PageCoordinates:        map[string]interface{}{"x": 10.0},
					ViewportInfo:           map[string]interface{}{"width": 800.0},
				}},
			},
			Result: []models.ActionResult{{IsDone: false}},
		},
		{
			StepNumber: 2,
			Result:     []models.ActionResult{{IsDone: true, Success: &success, ExtractedContent: "done"}},
		},
	}}
}

func readDoc(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestUniqueFilename(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	name := UniqueFilename("elements", ".json", now)
	assert.Regexp(t, regexp.MustCompile(`^elements_20250304_050607_[0-9a-f]{8}\.json$`), name)
	assert.NotEqual(t, name, UniqueFilename("elements", "json", now))
}

func TestCleanHistory(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "raw.json")
	out := filepath.Join(dir, "clean.json")
	require.NoError(t, SaveHistory(in, sampleHistory()))

	require.NoError(t, CleanHistory(in, out))

	doc := readDoc(t, out)
	first := doc["history"].([]interface{})[0].(map[string]interface{})
	state := first["state"].(map[string]interface{})
	assert.Equal(t, "", state["screenshot"])

	element := state["interacted_element"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{}, element["page_coordinates"])
	assert.Equal(t, map[string]interface{}{}, element["viewport_coordinates"])
	assert.Equal(t, map[string]interface{}{}, element["viewport_info"])
	assert.Equal(t, "button#login", element["css_selector"], "other fields survive")

	raw := readDoc(t, in)
	rawState := raw["history"].([]interface{})[0].(map[string]interface{})["state"].(map[string]interface{})
	assert.Equal(t, "iVBORw0KGgo=", rawState["screenshot"], "input is untouched")
}

func TestExtractInteractedElements(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "raw.json")
	out := filepath.Join(dir, "elements.json")
	require.NoError(t, SaveHistory(in, sampleHistory()))

	require.NoError(t, ExtractInteractedElements(in, out))

	doc := readDoc(t, out)
	extracted := doc["extracted_data"].([]interface{})
	require.Len(t, extracted, 2)

	first := extracted[0].(map[string]interface{})
	assert.Equal(t, "open login", first["current_state"].(map[string]interface{})["next_goal"])
	assert.Len(t, first["action"], 1)

	elements := first["interacted_elements"].([]interface{})
	require.Len(t, elements, 1)
	element := elements[0].(map[string]interface{})
	assert.Len(t, element, 5)
	assert.Equal(t, "button", element["tag_name"])
	assert.Equal(t, "/html/body/button", element["xpath"])
	assert.NotContains(t, element, "page_coordinates")

	second := extracted[1].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{}, second["current_state"])
	assert.Equal(t, []interface{}{}, second["interacted_elements"])
}

func TestExtractInteractedElements_BadInput(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, ExtractInteractedElements(filepath.Join(dir, "missing.json"), filepath.Join(dir, "out.json")))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	assert.Error(t, CleanHistory(bad, filepath.Join(dir, "out.json")))
}

func TestStore_SaveRunArtifacts(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, arbor.NewNoOpLogger())

	path, err := store.SaveRunArtifacts("session_abc", sampleHistory())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "elements_"))
	assert.Equal(t, filepath.Join(root, "session_abc"), filepath.Dir(path))

	entries, err := os.ReadDir(filepath.Join(root, "session_abc"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	_, err = store.SaveRunArtifacts("session_abc", nil)
	assert.Error(t, err)
}

func TestStore_Resolve(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, arbor.NewNoOpLogger())

	path, err := store.Resolve("session_abc/elements.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "session_abc", "elements.json"), path)

	abs := filepath.Join(root, "session_abc", "x.json")
	path, err = store.Resolve(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, path)

	_, err = store.Resolve("../etc/passwd")
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = store.Resolve("/etc/passwd")
	assert.Error(t, err)
}
