package agents

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/models"
)

// actionIcons maps engine action types to the icon shown next to a step
var actionIcons = map[string]string{
	"ClickAction":    "👆",
	"InputAction":    "⌨️",
	"NavigateAction": "🧭",
	"ScrollAction":   "📜",
	"WaitAction":     "⏳",
	"ExtractAction":  "📋",
	"SelectAction":   "🎯",
	"HoverAction":    "🔍",
	"AskHumanAction": "🤔",
	"DoneAction":     "✅",
}

const defaultActionIcon = "🎯"

// ActionIcon returns the icon for an action type
func ActionIcon(actionType string) string {
	if icon, ok := actionIcons[actionType]; ok {
		return icon
	}
	return defaultActionIcon
}

// DisplayName turns "NavigateAction" into "Navigate"
func DisplayName(actionType string) string {
	name := strings.TrimSuffix(actionType, "Action")
	if name == "" {
		return actionType
	}
	return name
}

// NewStepAdapter translates step hook calls into StepUpdate events for one session.
// onProgress, when set, is told the step number before the event is published.
func NewStepAdapter(sessionID, agentID string, publisher interfaces.EventPublisher, onProgress func(step int)) interfaces.StepHook {
	return func(state models.BrowserState, output models.ModelOutput, stepNumber int) {
		if onProgress != nil {
			onProgress(stepNumber)
		}

		actions := make([]models.ActionInfo, 0, len(output.Actions))
		for _, a := range output.Actions {
			if a.Icon == "" {
				a.Icon = ActionIcon(a.ActionType)
			}
			if a.DisplayName == "" {
				a.DisplayName = DisplayName(a.ActionType)
			}
			actions = append(actions, a)
		}
		output.Actions = actions

		st := state
		publisher.Publish(models.NewEvent(models.EventAgentStep, sessionID, models.StepUpdate{
			AgentID:      agentID,
			StepNumber:   stepNumber,
			Timestamp:    time.Now().Format(time.RFC3339),
			URL:          state.URL,
			Title:        state.Title,
			BrowserState: &st,
			ModelOutput:  &output,
		}))
	}
}

// NewDoneAdapter translates the completion hook into a summary log event
func NewDoneAdapter(sessionID, agentID string, publisher interfaces.EventPublisher) interfaces.DoneHook {
	return func(history *models.RunHistory) {
		message := fmt.Sprintf("📊 Agent %s finished after %d steps", agentID, history.TotalSteps())
		if result := history.FinalResult(); result != "" {
			message += ": " + result
		}

		publisher.Publish(models.NewEvent(models.EventLog, sessionID, models.LogMessage{
			Timestamp:  time.Now().Format(time.RFC3339),
			Level:      "INFO",
			LoggerName: "agent.controller",
			Message:    message,
			StepNumber: history.TotalSteps(),
			Metadata: map[string]interface{}{
				"is_done":    history.IsDone(),
				"successful": history.IsSuccessful(),
			},
		}))
	}
}
