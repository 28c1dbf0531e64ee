package models

// RunHistory is the step-by-step record an automation run produces.
// It is persisted as the run-history artifact and embedded in AgentRun.
type RunHistory struct {
	History []HistoryItem `json:"history"`
}

// HistoryItem is one step of a run
type HistoryItem struct {
	ModelOutput *HistoryModelOutput `json:"model_output,omitempty"`
	Result      []ActionResult      `json:"result"`
	State       HistoryState        `json:"state"`
	StepNumber  int                 `json:"step_number"`
	DurationMS  int64               `json:"duration_ms,omitempty"`
}

// HistoryModelOutput is the planner output recorded for a step
type HistoryModelOutput struct {
	CurrentState CurrentState             `json:"current_state"`
	Action       []map[string]interface{} `json:"action"`
}

// CurrentState is the planner's self-assessment for a step
type CurrentState struct {
	Evaluation string `json:"evaluation_previous_goal,omitempty"`
	Memory     string `json:"memory,omitempty"`
	NextGoal   string `json:"next_goal,omitempty"`
}

// ActionResult is the outcome of one executed action
type ActionResult struct {
	IsDone           bool   `json:"is_done"`
	Success          *bool  `json:"success,omitempty"`
	ExtractedContent string `json:"extracted_content,omitempty"`
	Error            string `json:"error,omitempty"`
}

// HistoryState is the browser state observed at a step
type HistoryState struct {
	URL               string              `json:"url"`
	Title             string              `json:"title"`
	Tabs              []string            `json:"tabs,omitempty"`
	Screenshot        string              `json:"screenshot,omitempty"`
	InteractedElement []InteractedElement `json:"interacted_element"`
}

// InteractedElement describes a DOM element an action touched
type InteractedElement struct {
	TagName                string                 `json:"tag_name"`
	XPath                  string                 `json:"xpath"`
	Attributes             map[string]string      `json:"attributes,omitempty"`
	CSSSelector            string                 `json:"css_selector,omitempty"`
	EntireParentBranchPath []string               `json:"entire_parent_branch_path,omitempty"`
	PageCoordinates        map[string]interface{} `json:"page_coordinates,omitempty"`
	ViewportCoordinates    map[string]interface{} `json:"viewport_coordinates,omitempty"`
	ViewportInfo           map[string]interface{} `json:"viewport_info,omitempty"`
}

// TotalSteps returns the number of recorded steps
func (h *RunHistory) TotalSteps() int {
	if h == nil {
		return 0
	}
	return len(h.History)
}

// lastResult returns the final action result of the final step, if any
func (h *RunHistory) lastResult() *ActionResult {
	if h == nil || len(h.History) == 0 {
		return nil
	}
	results := h.History[len(h.History)-1].Result
	if len(results) == 0 {
		return nil
	}
	return &results[len(results)-1]
}

// IsDone reports whether the run reached a done action
func (h *RunHistory) IsDone() bool {
	r := h.lastResult()
	return r != nil && r.IsDone
}

// IsSuccessful reports whether the run finished with a successful done action
func (h *RunHistory) IsSuccessful() bool {
	r := h.lastResult()
	return r != nil && r.IsDone && r.Success != nil && *r.Success
}

// FinalResult returns the extracted content of the done action
func (h *RunHistory) FinalResult() string {
	r := h.lastResult()
	if r == nil {
		return ""
	}
	return r.ExtractedContent
}
