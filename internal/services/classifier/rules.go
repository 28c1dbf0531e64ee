package classifier

import (
	"regexp"
	"strings"
)

// action is what a matching rule does with a line
type action int

const (
	actionDiscard  action = iota // Drop the line
	actionSuffix                 // Emit a step event carrying the text after the prefix
	actionCanned                 // Emit a step event with a fixed message
	actionArtifact               // Emit an artifact event referencing the captured path
)

// rule is one row of the classification table. Exactly one of prefix, contains
// or pattern is set.
type rule struct {
	name     string
	prefix   string
	contains string
	pattern  *regexp.Regexp
	action   action
	info     string
	message  string // Canned or artifact message
}

// match returns the rule's payload text for line, or false when it does not apply
func (r rule) match(line string) (string, bool) {
	switch {
	case r.prefix != "":
		if !strings.HasPrefix(line, r.prefix) {
			return "", false
		}
		return strings.TrimSpace(strings.TrimPrefix(line, r.prefix)), true
	case r.contains != "":
		return "", strings.Contains(line, r.contains)
	case r.pattern != nil:
		m := r.pattern.FindStringSubmatch(line)
		if m == nil {
			return "", false
		}
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

var filepathPattern = regexp.MustCompile(`filepath\s*:\s*(.+)`)

// Message and info strings shown to observers
const (
	MessageInitiating   = "Initiating Agents ..."
	MessageTaskComplete = "Task completed"
	MessageArtifact     = "Test Case Received as TASK"
	MessageStarted      = "Session Started"
	MessageEnded        = "Session Ended"

	InfoNextTask   = "Agent Next Task"
	InfoTaskStatus = "Agent Task Status"
	InfoStartTask  = "Starting Task"
	InfoTaskResult = "Task Result"
	InfoTaskDone   = "Task Completed"
	InfoSession    = "Session"
	LoggerName     = "agent"
	levelInfo      = "INFO"
)

// rules is evaluated top to bottom; the first match wins.
// Noise rules sit above the prefixes they would otherwise shadow.
var rules = []rule{
	{name: "status_unknown", contains: "Task Status: Unknown", action: actionDiscard},
	{name: "memory", prefix: "🤖 Agent Memory:", action: actionDiscard},
	{name: "debug", prefix: "DEBUG", action: actionDiscard},
	{name: "next_task", prefix: "🎯 Agent Next Task:", action: actionSuffix, info: InfoNextTask},
	{name: "task_status", prefix: "✔️ Task Status:", action: actionSuffix, info: InfoTaskStatus},
	{name: "starting", prefix: "✨ Starting task:", action: actionCanned, info: InfoStartTask, message: MessageInitiating},
	{name: "result", prefix: "📄 Result:", action: actionSuffix, info: InfoTaskResult},
	{name: "completed", prefix: "✅ Task completed", action: actionCanned, info: InfoTaskDone, message: MessageTaskComplete},
	{name: "artifact", pattern: filepathPattern, action: actionArtifact, message: MessageArtifact},
	{name: "filepath_noise", contains: "filepath", action: actionDiscard},
}
