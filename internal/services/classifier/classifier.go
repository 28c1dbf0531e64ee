// Package classifier turns the automation engine's free-text log lines into
// structured log events.
package classifier

import (
	"strings"

	"github.com/ternarybob/agentstream/internal/models"
)

// Classify maps one raw line to a log message. It returns false when the line
// is blank or matched a discard rule. The returned message carries no timestamp
// or session; the caller stamps both.
func Classify(line string) (models.LogMessage, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return models.LogMessage{}, false
	}

	for _, r := range rules {
		text, ok := r.match(trimmed)
		if !ok {
			continue
		}

		switch r.action {
		case actionDiscard:
			return models.LogMessage{}, false
		case actionSuffix:
			return stepMessage(text, r.info), true
		case actionCanned:
			return stepMessage(r.message, r.info), true
		case actionArtifact:
			msg := stepMessage(r.message, "")
			msg.Category = models.LogCategoryArtifact
			msg.Path = text
			return msg, true
		}
	}

	return models.LogMessage{
		Level:      levelInfo,
		LoggerName: LoggerName,
		Message:    strings.TrimRight(line, "\r\n"),
		Category:   models.LogCategoryMessage,
	}, true
}

// ClassifyAll classifies a chunk of text split on newlines, in order
func ClassifyAll(text string) []models.LogMessage {
	var out []models.LogMessage
	for _, line := range strings.Split(text, "\n") {
		if msg, ok := Classify(line); ok {
			out = append(out, msg)
		}
	}
	return out
}

func stepMessage(message, info string) models.LogMessage {
	return models.LogMessage{
		Level:      levelInfo,
		LoggerName: LoggerName,
		Message:    message,
		Category:   models.LogCategoryStep,
		Info:       info,
	}
}
