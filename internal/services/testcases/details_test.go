package testcases

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/models"
	"github.com/ternarybob/agentstream/internal/services/artifacts"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) Provider() string { return "mock" }

func (m *mockLLM) Close() error { return nil }

func TestParseDetails(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		details, err := ParseDetails(`{"detailsSteps": "Step 1: open", "bddSteps": "Given I open the url \"x\"", "revisedTestCase": [{"testCaseId": "TC-1"}], "testCaseId": ["TC-1"]}`)
		require.NoError(t, err)
		assert.Equal(t, "Step 1: open", details.DetailsSteps)
		assert.Equal(t, []interface{}{"TC-1"}, details.TestCaseID)
		assert.Len(t, details.RevisedTestCase, 1)
	})

	t.Run("fenced with chatter", func(t *testing.T) {
		details, err := ParseDetails("```json\n{\"detailsSteps\": \"a\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "a", details.DetailsSteps)

		details, err = ParseDetails("Here you go: {\"bddSteps\": \"b\"} hope it helps")
		require.NoError(t, err)
		assert.Equal(t, "b", details.BDDSteps)
	})

	t.Run("list of lists flattened once", func(t *testing.T) {
		details, err := ParseDetails(`{"detailsSteps": [["s1", "s2"], ["s3"]], "bddSteps": [["g1"], [["deep"]]], "revisedTestCase": [["x"], "y"]}`)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"s1", "s2", "s3"}, details.DetailsSteps)
		assert.Equal(t, []interface{}{"g1", []interface{}{"deep"}}, details.BDDSteps)
		assert.Equal(t, []interface{}{[]interface{}{"x"}, "y"}, details.RevisedTestCase, "mixed lists are left alone")
	})

	t.Run("unparseable", func(t *testing.T) {
		_, err := ParseDetails("I could not do that")
		assert.ErrorIs(t, err, models.ErrResponseParsing)
	})
}

func TestFlattenOnce(t *testing.T) {
	assert.Equal(t, "text", flattenOnce("text"))
	assert.Nil(t, flattenOnce(nil))
	assert.Equal(t, []interface{}{}, flattenOnce([]interface{}{}))
}

func TestGenerator_Generate(t *testing.T) {
	root := t.TempDir()
	store := artifacts.NewStore(root, arbor.NewNoOpLogger())
	require.NoError(t, os.MkdirAll(filepath.Join(root, "session_a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "session_a", "elements.json"), []byte("{\n  \"extracted_data\": []\n}"), 0644))

	llm := &mockLLM{}
	llm.On("Chat", mock.Anything, mock.MatchedBy(func(messages []interfaces.Message) bool {
		return len(messages) == 2 &&
			messages[0].Role == "system" &&
			strings.Contains(messages[1].Content, `Here is the Agent Chat history: {"extracted_data":[]}`) &&
			strings.Contains(messages[1].Content, "Here is the current test case : login works") &&
			strings.HasSuffix(messages[1].Content, "Application URL: https://example.com")
	})).Return(`{"detailsSteps": [["Step 1"], ["Step 2"]], "testCaseId": ["TC-9"]}`, nil).Once()

	generator := NewGenerator(llm, store, arbor.NewNoOpLogger())
	details, err := generator.Generate(context.Background(), DetailsRequest{
		HistoryPath: "session_a/elements.json",
		TestCases:   json.RawMessage(`"login works"`),
		URL:         "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Step 1", "Step 2"}, details.DetailsSteps)
	assert.Equal(t, []interface{}{"TC-9"}, details.TestCaseID)
	llm.AssertExpectations(t)
}

func TestGenerator_Errors(t *testing.T) {
	root := t.TempDir()
	store := artifacts.NewStore(root, arbor.NewNoOpLogger())
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte("{nope"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.json"), []byte(`{}`), 0644))

	llm := &mockLLM{}
	generator := NewGenerator(llm, store, arbor.NewNoOpLogger())
	ctx := context.Background()
	testCase := json.RawMessage(`{"testCaseId": "TC-1"}`)

	_, err := generator.Generate(ctx, DetailsRequest{HistoryPath: "../outside.json", TestCases: testCase})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = generator.Generate(ctx, DetailsRequest{HistoryPath: "missing.json", TestCases: testCase})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = generator.Generate(ctx, DetailsRequest{HistoryPath: "broken.json", TestCases: testCase})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	llm.On("Chat", mock.Anything, mock.Anything).Return("", errors.New("quota")).Once()
	_, err = generator.Generate(ctx, DetailsRequest{HistoryPath: "ok.json", TestCases: testCase})
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrResponseParsing)

	llm.On("Chat", mock.Anything, mock.Anything).Return("no json here", nil).Once()
	_, err = generator.Generate(ctx, DetailsRequest{HistoryPath: "ok.json", TestCases: testCase})
	assert.ErrorIs(t, err, models.ErrResponseParsing)
}
