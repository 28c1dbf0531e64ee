package classifier

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/agentstream/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantEmit bool
		category models.LogCategory
		message  string
		info     string
		path     string
	}{
		{name: "starting task is canned", line: "✨ Starting task: login flow", wantEmit: true,
			category: models.LogCategoryStep, message: MessageInitiating, info: InfoStartTask},
		{name: "status unknown is noise", line: "Task Status: Unknown"},
		{name: "status unknown inside status prefix", line: "✔️ Task Status: Unknown - blank page"},
		{name: "blank", line: ""},
		{name: "whitespace only", line: " \t \r"},
		{name: "result suffix", line: "📄 Result: value=42", wantEmit: true,
			category: models.LogCategoryStep, message: "value=42", info: InfoTaskResult},
		{name: "memory discarded", line: "🤖 Agent Memory: remembered the password field"},
		{name: "debug discarded", line: "DEBUG [agent] dom tree built in 12ms"},
		{name: "next task suffix", line: "🎯 Agent Next Task: click the login button", wantEmit: true,
			category: models.LogCategoryStep, message: "click the login button", info: InfoNextTask},
		{name: "task status suffix", line: "✔️ Task Status: Success - logged in", wantEmit: true,
			category: models.LogCategoryStep, message: "Success - logged in", info: InfoTaskStatus},
		{name: "task completed canned", line: "✅ Task completed successfully after 4 steps", wantEmit: true,
			category: models.LogCategoryStep, message: MessageTaskComplete, info: InfoTaskDone},
		{name: "artifact path", line: "filepath : /data/logs/elements_20250101_120000_abcd1234.json", wantEmit: true,
			category: models.LogCategoryArtifact, message: MessageArtifact, path: "/data/logs/elements_20250101_120000_abcd1234.json"},
		{name: "artifact without spaces", line: "saved filepath:/tmp/h.json", wantEmit: true,
			category: models.LogCategoryArtifact, message: MessageArtifact, path: "/tmp/h.json"},
		{name: "filepath mention without path", line: "no filepath available"},
		{name: "generic message verbatim", line: "📍 Step 3", wantEmit: true,
			category: models.LogCategoryMessage, message: "📍 Step 3"},
		{name: "leading indentation still matches", line: "   📄 Result: ok", wantEmit: true,
			category: models.LogCategoryStep, message: "ok", info: InfoTaskResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Classify(tt.line)
			require.Equal(t, tt.wantEmit, ok)
			if !tt.wantEmit {
				return
			}
			assert.Equal(t, tt.category, msg.Category)
			assert.Equal(t, tt.message, msg.Message)
			assert.Equal(t, tt.info, msg.Info)
			assert.Equal(t, tt.path, msg.Path)
			assert.Equal(t, "INFO", msg.Level)
			assert.Empty(t, msg.Timestamp, "Classify must stay pure")
		})
	}
}

func TestClassify_StartingTaskHidesSuffix(t *testing.T) {
	msgs := ClassifyAll("✨ Starting task: login flow")
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].Message, "login flow")
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// Matches both the result prefix and the filepath pattern; the prefix is earlier.
	msg, ok := Classify("📄 Result: filepath : /tmp/out.json")
	require.True(t, ok)
	assert.Equal(t, models.LogCategoryStep, msg.Category)
	assert.Equal(t, "filepath : /tmp/out.json", msg.Message)
}

func TestClassifyAll_PreservesOrder(t *testing.T) {
	text := strings.Join([]string{
		"✨ Starting task: x",
		"",
		"🤖 Agent Memory: y",
		"🎯 Agent Next Task: open page",
		"something else",
		"📄 Result: done",
	}, "\n")

	msgs := ClassifyAll(text)
	require.Len(t, msgs, 4)
	assert.Equal(t, MessageInitiating, msgs[0].Message)
	assert.Equal(t, "open page", msgs[1].Message)
	assert.Equal(t, "something else", msgs[2].Message)
	assert.Equal(t, "done", msgs[3].Message)
}

func FuzzClassify(f *testing.F) {
	seeds := []string{
		"✨ Starting task: login flow",
		"Task Status: Unknown",
		"📄 Result: value=42",
		"filepath : /tmp/a.json",
		"DEBUG x",
		"",
		"plain text",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, line string) {
		if strings.Contains(line, "\n") || !utf8.ValidString(line) {
			t.Skip()
		}

		msg, ok := Classify(line)
		if strings.TrimSpace(line) == "" {
			if ok {
				t.Fatalf("blank line %q produced an event", line)
			}
			return
		}
		if strings.Contains(line, "Task Status: Unknown") && ok {
			t.Fatalf("status-unknown line %q produced an event", line)
		}
		if !ok {
			return
		}

		switch msg.Category {
		case models.LogCategoryArtifact:
			if msg.Path == "" {
				t.Fatalf("artifact event without path for %q", line)
			}
		case models.LogCategoryStep, models.LogCategoryMessage:
		default:
			t.Fatalf("unknown category %q for %q", msg.Category, line)
		}

		again, okAgain := Classify(line)
		if okAgain != ok || !reflect.DeepEqual(again, msg) {
			t.Fatalf("classification of %q is not deterministic", line)
		}
	})
}
