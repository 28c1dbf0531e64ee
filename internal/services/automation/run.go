package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/models"
)

// maxNotes bounds the step notes carried into the next prompt
const maxNotes = 20

// errNavigated ends an action sequence after the page changed
var errNavigated = errors.New("page changed")

// Run is one automation run. Pause, Resume, Stop and AddTask only flip state;
// the loop observes them between steps.
type Run struct {
	engine *Engine
	opts   interfaces.RunOptions
	logger arbor.ILogger

	mu      sync.Mutex
	started bool
	paused  bool
	resume  chan struct{} // Closed when a pause ends
	pending []string

	stopOnce sync.Once
	stopped  chan struct{}
}

func newRun(e *Engine, opts interfaces.RunOptions) *Run {
	return &Run{
		engine:  e,
		opts:    opts,
		logger:  e.logger.WithCorrelationId(opts.SessionID),
		stopped: make(chan struct{}),
	}
}

func (r *Run) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		r.paused = true
		r.resume = make(chan struct{})
	}
}

func (r *Run) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		r.paused = false
		close(r.resume)
	}
}

func (r *Run) Stop() {
	r.stopOnce.Do(func() { close(r.stopped) })
}

func (r *Run) AddTask(instruction string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, instruction)
}

// Run executes the task. Stop or ctx cancellation end it with context.Canceled.
func (r *Run) Run(ctx context.Context) (*models.RunHistory, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, fmt.Errorf("run already started")
	}
	r.started = true
	r.mu.Unlock()

	history := &models.RunHistory{History: []models.HistoryItem{}}
	task := r.opts.Task
	r.printf("✨ Starting task: %s", task)

	browser, err := r.engine.open(ctx, r.opts)
	if err != nil {
		return history, fmt.Errorf("failed to open browser: %w", err)
	}
	defer browser.Close()

	if start := r.engine.cfg.StartURL; start != "" && start != "about:blank" {
		if err := browser.Navigate(ctx, start); err != nil {
			r.logger.Warn().Err(err).Str("url", start).Msg("Failed to open start page")
		}
	}

	var notes []string
	failures := 0

	for step := 1; step <= r.opts.MaxSteps; step++ {
		if err := r.checkpoint(ctx); err != nil {
			r.printf("🛑 Agent stopped at step %d", step)
			return history, err
		}

		if extra := r.takePending(); len(extra) > 0 {
			instruction := strings.Join(extra, "\n")
			task = task + "\nNew instruction from the operator: " + instruction
			notes = appendNote(notes, "Operator added instruction: "+instruction)
			r.printf("📝 New instruction: %s", instruction)
		}

		outcome, err := r.step(ctx, browser, task, notes, step)
		if err != nil {
			if ctx.Err() != nil || r.isStopped() {
				return history, context.Canceled
			}
			failures++
			r.printf("❌ Step %d failed %d/%d times: %v", step, failures, r.engine.cfg.MaxFailures, err)
			r.logger.Warn().Err(err).Int("step", step).Int("failures", failures).Msg("Automation step failed")
			if failures >= r.engine.cfg.MaxFailures {
				return history, fmt.Errorf("stopping after %d consecutive failures: %w", failures, err)
			}
			continue
		}
		failures = 0

		item := outcome.item
		history.History = append(history.History, *item)
		for _, result := range item.Result {
			notes = appendNote(notes, fmt.Sprintf("Step %d: %s", step, describeResult(result)))
		}

		if r.opts.OnStep != nil {
			r.opts.OnStep(models.BrowserState{
				URL:                      item.State.URL,
				Title:                    item.State.Title,
				Tabs:                     item.State.Tabs,
				InteractiveElementsCount: outcome.elements,
			}, outcome.reply.ModelOutput(), step)
		}

		if history.IsDone() {
			if history.IsSuccessful() {
				r.printf("✅ Task completed successfully")
			} else {
				r.printf("⚠️ Task ended without success")
			}
			r.finish(history)
			return history, nil
		}
	}

	r.printf("❌ Failed to complete task in maximum steps (%d)", r.opts.MaxSteps)
	r.finish(history)
	return history, nil
}

func (r *Run) finish(history *models.RunHistory) {
	r.logger.Info().
		Int("steps", history.TotalSteps()).
		Bool("successful", history.IsSuccessful()).
		Msg("Automation run finished")
	if r.opts.OnDone != nil {
		r.opts.OnDone(history)
	}
}

// stepOutcome is what one planned and executed step produced
type stepOutcome struct {
	item     *models.HistoryItem
	reply    *PlannerReply
	elements int // Interactive elements on the page the planner saw
}

// step plans and executes one step
func (r *Run) step(ctx context.Context, browser Browser, task string, notes []string, step int) (*stepOutcome, error) {
	cfg := r.engine.cfg
	start := time.Now()

	stepCtx, cancel := context.WithTimeout(ctx, cfg.StepTimeout)
	defer cancel()

	page, err := browser.Snapshot(stepCtx)
	if err != nil {
		return nil, err
	}

	response, err := r.engine.llm.Chat(stepCtx, []interfaces.Message{
		{Role: interfaces.RoleSystem, Content: fmt.Sprintf(plannerSystemPrompt, cfg.MaxActionsPerStep)},
		{Role: interfaces.RoleUser, Content: BuildPrompt(task, notes, page, step, r.opts.MaxSteps)},
	})
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}

	reply, err := ParseReply(response)
	if err != nil {
		return nil, err
	}

	state := reply.CurrentState
	if state.Memory != "" {
		r.printf("🤖 Agent Memory: %s", state.Memory)
	}
	if state.Evaluation != "" {
		r.printf("✔️ Task Status: %s", state.Evaluation)
	}
	if state.NextGoal != "" {
		r.printf("🎯 Agent Next Task: %s", state.NextGoal)
	}

	actions := reply.Actions()
	if len(actions) > cfg.MaxActionsPerStep {
		actions = actions[:cfg.MaxActionsPerStep]
	}

	item := &models.HistoryItem{
		ModelOutput: &models.HistoryModelOutput{CurrentState: reply.CurrentState, Action: reply.Action},
		StepNumber:  step,
		State: models.HistoryState{
			URL:               page.URL,
			Title:             page.Title,
			Tabs:              page.Tabs,
			Screenshot:        page.Screenshot,
			InteractedElement: []models.InteractedElement{},
		},
	}

	for i, action := range actions {
		r.logger.Debug().Str("action", action.Name).Int("step", step).Int("position", i+1).Msg("Executing action")

		result, element, err := r.execute(ctx, stepCtx, browser, page, action)
		if element != nil {
			item.State.InteractedElement = append(item.State.InteractedElement, *element)
		}
		if err != nil && !errors.Is(err, errNavigated) {
			result.Error = err.Error()
		}
		item.Result = append(item.Result, result)

		if err != nil || result.IsDone {
			break
		}
	}

	item.DurationMS = time.Since(start).Milliseconds()
	return &stepOutcome{item: item, reply: reply, elements: len(page.Elements)}, nil
}

// execute performs one action. ask_human waits on ctx rather than the step deadline.
func (r *Run) execute(ctx, stepCtx context.Context, browser Browser, page *PageSnapshot, action Action) (models.ActionResult, *models.InteractedElement, error) {
	element := func() (Element, *models.InteractedElement, error) {
		index, ok := action.Index()
		if !ok {
			return Element{}, nil, fmt.Errorf("%s requires an element index", action.Name)
		}
		el, ok := page.Element(index)
		if !ok {
			return Element{}, nil, fmt.Errorf("element index %d does not exist", index)
		}
		return el, interacted(el), nil
	}

	switch action.Name {
	case ActionGoToURL:
		url := action.Text("url")
		if url == "" {
			return models.ActionResult{}, nil, fmt.Errorf("go_to_url requires a url")
		}
		if err := browser.Navigate(stepCtx, url); err != nil {
			return models.ActionResult{}, nil, err
		}
		r.settle(stepCtx)
		return models.ActionResult{ExtractedContent: "🔗 Navigated to " + url}, nil, errNavigated

	case ActionGoBack:
		if err := browser.Back(stepCtx); err != nil {
			return models.ActionResult{}, nil, err
		}
		r.settle(stepCtx)
		return models.ActionResult{ExtractedContent: "🔙 Navigated back"}, nil, errNavigated

	case ActionClick:
		el, info, err := element()
		if err != nil {
			return models.ActionResult{}, nil, err
		}
		if err := browser.Click(stepCtx, el); err != nil {
			return models.ActionResult{}, info, err
		}
		r.settle(stepCtx)
		return models.ActionResult{ExtractedContent: fmt.Sprintf("🖱️ Clicked element %d: %s", el.Index, el.Text)}, info, nil

	case ActionInput:
		el, info, err := element()
		if err != nil {
			return models.ActionResult{}, nil, err
		}
		if err := browser.Input(stepCtx, el, action.Text("text")); err != nil {
			return models.ActionResult{}, info, err
		}
		r.settle(stepCtx)
		return models.ActionResult{ExtractedContent: fmt.Sprintf("⌨️ Input %q into element %d", action.Text("text"), el.Index)}, info, nil

	case ActionSelect:
		el, info, err := element()
		if err != nil {
			return models.ActionResult{}, nil, err
		}
		if err := browser.Select(stepCtx, el, action.Text("text")); err != nil {
			return models.ActionResult{}, info, err
		}
		r.settle(stepCtx)
		return models.ActionResult{ExtractedContent: fmt.Sprintf("🎯 Selected %q in element %d", action.Text("text"), el.Index)}, info, nil

	case ActionScrollDown, ActionScrollUp:
		down := action.Name == ActionScrollDown
		if err := browser.Scroll(stepCtx, down); err != nil {
			return models.ActionResult{}, nil, err
		}
		direction := "up"
		if down {
			direction = "down"
		}
		return models.ActionResult{ExtractedContent: "📜 Scrolled " + direction}, nil, nil

	case ActionSendKeys:
		keys := action.Text("keys")
		if err := browser.SendKeys(stepCtx, keys); err != nil {
			return models.ActionResult{}, nil, err
		}
		r.settle(stepCtx)
		return models.ActionResult{ExtractedContent: "⌨️ Sent keys " + keys}, nil, nil

	case ActionWait:
		seconds := action.Float("seconds", 3)
		if seconds > 10 {
			seconds = 10
		}
		sleep(stepCtx, time.Duration(seconds*float64(time.Second)))
		return models.ActionResult{ExtractedContent: fmt.Sprintf("⏳ Waited %.0f seconds", seconds)}, nil, nil

	case ActionExtractContent:
		r.printf("📄 Result: %s", truncate(strings.ReplaceAll(page.Content, "\n", " "), 500))
		return models.ActionResult{ExtractedContent: page.Content}, nil, nil

	case ActionAskHuman:
		question := action.Text("question")
		if r.opts.AskHuman == nil {
			return models.ActionResult{}, nil, fmt.Errorf("no operator is available to answer")
		}
		answer, err := r.opts.AskHuman(ctx, question)
		if err != nil {
			return models.ActionResult{}, nil, fmt.Errorf("question unanswered: %w", err)
		}
		return models.ActionResult{ExtractedContent: fmt.Sprintf("Operator answered %q: %s", question, answer)}, nil, nil

	case ActionDone:
		success := action.Bool("success", true)
		text := action.Text("text")
		r.printf("📄 Result: %s", text)
		return models.ActionResult{IsDone: true, Success: &success, ExtractedContent: text}, nil, nil
	}

	return models.ActionResult{}, nil, fmt.Errorf("unknown action %q", action.Name)
}

// checkpoint returns once the run may take another step, or the reason it may not
func (r *Run) checkpoint(ctx context.Context) error {
	announced := false
	for {
		select {
		case <-r.stopped:
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.mu.Lock()
		paused, resume := r.paused, r.resume
		r.mu.Unlock()
		if !paused {
			if announced {
				r.printf("▶️ Resuming task")
			}
			return nil
		}

		if !announced {
			r.printf("⏸️ Waiting for the operator to resume")
			announced = true
		}

		select {
		case <-resume:
		case <-r.stopped:
		case <-ctx.Done():
		}
	}
}

func (r *Run) takePending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.pending
	r.pending = nil
	return pending
}

func (r *Run) isStopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

func (r *Run) settle(ctx context.Context) {
	sleep(ctx, r.engine.cfg.ActionWait)
}

// printf writes one progress line for the classifier
func (r *Run) printf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if _, err := fmt.Fprintln(r.opts.LogWriter, line); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to write progress line")
	}
}

func interacted(el Element) *models.InteractedElement {
	return &models.InteractedElement{
		TagName:                el.TagName,
		XPath:                  el.XPath,
		Attributes:             el.Attributes,
		CSSSelector:            el.CSSSelector,
		EntireParentBranchPath: el.ParentPath,
	}
}

func describeResult(result models.ActionResult) string {
	switch {
	case result.Error != "":
		return "error: " + result.Error
	case result.IsDone:
		return "done: " + truncate(result.ExtractedContent, 200)
	default:
		return truncate(result.ExtractedContent, 200)
	}
}

func appendNote(notes []string, note string) []string {
	notes = append(notes, note)
	if len(notes) > maxNotes {
		notes = notes[len(notes)-maxNotes:]
	}
	return notes
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
