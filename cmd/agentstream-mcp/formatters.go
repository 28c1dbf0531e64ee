package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// agentSummary is the subset of an agent status shown in listings
type agentSummary struct {
	SessionID   string    `json:"session_id"`
	State       string    `json:"status"`
	CurrentStep int       `json:"current_step"`
	Task        string    `json:"task_description"`
	LastUpdate  time.Time `json:"last_update"`
}

// formatData pretty-prints the envelope payload under its code
func formatData(env *envelope) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%s**\n\n", env.Msg))

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return sb.String()
	}

	var pretty interface{}
	if err := json.Unmarshal(env.Data, &pretty); err != nil {
		sb.WriteString(string(env.Data))
		return sb.String()
	}
	data, _ := json.MarshalIndent(pretty, "", "  ")
	sb.WriteString("```json\n")
	sb.Write(data)
	sb.WriteString("\n```\n")
	return sb.String()
}

// formatFailure renders an error envelope as a single line
func formatFailure(env *envelope, status int) string {
	msg := fmt.Sprintf("Request failed (HTTP %d): %s", status, env.Msg)

	var data struct {
		Detail string `json:"detail"`
	}
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &data) == nil && data.Detail != "" {
		msg += " - " + data.Detail
	}
	return msg
}

// formatAgentList formats active agents as markdown
func formatAgentList(agents []agentSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Active Agents (%d)\n\n", len(agents)))

	if len(agents) == 0 {
		sb.WriteString("No active agents.\n")
		return sb.String()
	}

	for i, agent := range agents {
		sb.WriteString(fmt.Sprintf("%d. **%s** - %s (step %d)\n", i+1, agent.SessionID, agent.State, agent.CurrentStep))

		task := agent.Task
		if len(task) > 200 {
			task = task[:200] + "..."
		}
		sb.WriteString(fmt.Sprintf("   Task: %s\n", task))
		if !agent.LastUpdate.IsZero() {
			sb.WriteString(fmt.Sprintf("   Updated: %s\n", agent.LastUpdate.Format(time.RFC3339)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
