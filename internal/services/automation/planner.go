package automation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/agentstream/internal/models"
)

// Action names the planner may emit
const (
	ActionGoToURL        = "go_to_url"
	ActionGoBack         = "go_back"
	ActionClick          = "click_element"
	ActionInput          = "input_text"
	ActionSelect         = "select_option"
	ActionScrollDown     = "scroll_down"
	ActionScrollUp       = "scroll_up"
	ActionSendKeys       = "send_keys"
	ActionWait           = "wait"
	ActionExtractContent = "extract_content"
	ActionAskHuman       = "ask_human"
	ActionDone           = "done"
)

// actionTypes maps planner action names to the action types shown on step events
var actionTypes = map[string]string{
	ActionGoToURL:        "NavigateAction",
	ActionGoBack:         "NavigateAction",
	ActionClick:          "ClickAction",
	ActionInput:          "InputAction",
	ActionSelect:         "SelectAction",
	ActionScrollDown:     "ScrollAction",
	ActionScrollUp:       "ScrollAction",
	ActionSendKeys:       "InputAction",
	ActionWait:           "WaitAction",
	ActionExtractContent: "ExtractAction",
	ActionAskHuman:       "AskHumanAction",
	ActionDone:           "DoneAction",
}

// PlannerReply is the structured output of one planning call
type PlannerReply struct {
	CurrentState models.CurrentState     `json:"current_state"`
	Action       []map[string]interface{} `json:"action"`
}

// Action is one decoded planner action
type Action struct {
	Name   string
	Params map[string]interface{}
}

// Info describes the action for step events
func (a Action) Info() models.ActionInfo {
	actionType, ok := actionTypes[a.Name]
	if !ok {
		actionType = a.Name
	}

	details := ""
	if len(a.Params) > 0 {
		if raw, err := json.Marshal(a.Params); err == nil {
			details = string(raw)
		}
	}

	return models.ActionInfo{ActionType: actionType, Details: details}
}

// Index returns the integer "index" parameter
func (a Action) Index() (int, bool) {
	switch v := a.Params["index"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Text returns the named parameter as a string
func (a Action) Text(name string) string {
	switch v := a.Params[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the named boolean parameter, defaulting to def
func (a Action) Bool(name string, def bool) bool {
	if v, ok := a.Params[name].(bool); ok {
		return v
	}
	return def
}

// Float returns the named numeric parameter, defaulting to def
func (a Action) Float(name string, def float64) float64 {
	if v, ok := a.Params[name].(float64); ok {
		return v
	}
	return def
}

// Actions decodes the reply's action list. Each entry should hold one key;
// extra keys are decoded in name order.
func (r *PlannerReply) Actions() []Action {
	actions := make([]Action, 0, len(r.Action))
	for _, entry := range r.Action {
		names := make([]string, 0, len(entry))
		for name := range entry {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			params, _ := entry[name].(map[string]interface{})
			if params == nil {
				params = map[string]interface{}{}
			}
			actions = append(actions, Action{Name: name, Params: params})
		}
	}
	return actions
}

// ModelOutput converts the reply into the step event payload
func (r *PlannerReply) ModelOutput() models.ModelOutput {
	actions := r.Actions()
	infos := make([]models.ActionInfo, 0, len(actions))
	for _, a := range actions {
		infos = append(infos, a.Info())
	}

	return models.ModelOutput{
		Evaluation: r.CurrentState.Evaluation,
		Memory:     r.CurrentState.Memory,
		NextGoal:   r.CurrentState.NextGoal,
		Actions:    infos,
	}
}

var replyFence = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// ParseReply extracts the planner JSON from a completion, tolerating fences and surrounding text
func ParseReply(response string) (*PlannerReply, error) {
	body := strings.TrimSpace(response)
	if m := replyFence.FindStringSubmatch(body); len(m) > 1 {
		body = m[1]
	}
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var reply PlannerReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse planner reply: %w", err)
	}
	if len(reply.Action) == 0 {
		return nil, fmt.Errorf("planner reply has no actions")
	}
	return &reply, nil
}

// BuildPrompt renders the per-step user message
func BuildPrompt(task string, notes []string, page *PageSnapshot, step, maxSteps int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task:\n%s\n\n", task)

	if len(notes) > 0 {
		b.WriteString("Previous steps:\n")
		for _, note := range notes {
			fmt.Fprintf(&b, "- %s\n", note)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Step %d of %d\n", step, maxSteps)
	fmt.Fprintf(&b, "Current URL: %s\n", page.URL)
	fmt.Fprintf(&b, "Page title: %s\n", page.Title)
	if len(page.Tabs) > 1 {
		fmt.Fprintf(&b, "Open tabs: %s\n", strings.Join(page.Tabs, ", "))
	}

	b.WriteString("\nInteractive elements:\n")
	if len(page.Elements) == 0 {
		b.WriteString("(none)\n")
	}
	for _, el := range page.Elements {
		b.WriteString(el.String())
		b.WriteString("\n")
	}

	if page.Content != "" {
		fmt.Fprintf(&b, "\nPage content:\n%s\n", page.Content)
	}

	return b.String()
}
