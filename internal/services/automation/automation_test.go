package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/models"
)

const loginPage = `<html><head><title>Login</title><script>var x = 1;</script></head>
<body>
  <div><h1>Welcome back</h1></div>
  <div>
    <form>
      <input id="username" name="username" placeholder="Email">
      <input type="hidden" name="csrf" value="abc">
      <input id="password" type="password" name="password">
      <button id="login" class="btn primary">Log in</button>
    </form>
    <a href="/forgot">Forgot password?</a>
    <button style="display: none">Invisible</button>
  </div>
</body></html>`

// fakeBrowser records calls and serves a fixed page
type fakeBrowser struct {
	mu      sync.Mutex
	calls   []string
	page    string
	closed  bool
	failGet error
}

func (b *fakeBrowser) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBrowser) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	b.record("navigate " + url)
	return nil
}

func (b *fakeBrowser) Snapshot(ctx context.Context) (*PageSnapshot, error) {
	if b.failGet != nil {
		return nil, b.failGet
	}
	return ParsePage("https://example.com/login", "", b.page)
}

func (b *fakeBrowser) Click(ctx context.Context, el Element) error {
	b.record("click " + el.Selector())
	return nil
}

func (b *fakeBrowser) Input(ctx context.Context, el Element, text string) error {
	b.record(fmt.Sprintf("input %s %s", el.Selector(), text))
	return nil
}

func (b *fakeBrowser) Select(ctx context.Context, el Element, value string) error {
	b.record("select " + value)
	return nil
}

func (b *fakeBrowser) Scroll(ctx context.Context, down bool) error {
	b.record(fmt.Sprintf("scroll %v", down))
	return nil
}

func (b *fakeBrowser) SendKeys(ctx context.Context, keys string) error {
	b.record("keys " + keys)
	return nil
}

func (b *fakeBrowser) Back(ctx context.Context) error {
	b.record("back")
	return nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// scriptedLLM returns canned replies in order. With gate set every call waits for a release.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	called  chan int
	gate    chan struct{}
}

func newScriptedLLM(replies ...string) *scriptedLLM {
	return &scriptedLLM{replies: replies, called: make(chan int, 64)}
}

func (l *scriptedLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	l.mu.Lock()
	l.prompts = append(l.prompts, messages[len(messages)-1].Content)
	n := len(l.prompts)
	var reply string
	if n <= len(l.replies) {
		reply = l.replies[n-1]
	}
	l.mu.Unlock()

	l.called <- n

	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if reply == "" {
		return "", errors.New("429 too many requests")
	}
	return reply, nil
}

func (l *scriptedLLM) Provider() string { return "scripted" }

func (l *scriptedLLM) Close() error { return nil }

func (l *scriptedLLM) Prompt(n int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prompts[n-1]
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func reply(nextGoal string, actions string) string {
	return fmt.Sprintf(`{"current_state": {"evaluation_previous_goal": "Success - ok", "memory": "m", "next_goal": %q}, "action": %s}`, nextGoal, actions)
}

type runFixture struct {
	browser *fakeBrowser
	llm     *scriptedLLM
	out     *lockedBuffer
	steps   []int
	done    int
	mu      sync.Mutex
}

func newRunFixture(t *testing.T, llm *scriptedLLM, maxSteps int, askHuman interfaces.AskHumanHook) (*runFixture, interfaces.AutomationRun) {
	t.Helper()

	f := &runFixture{browser: &fakeBrowser{page: loginPage}, llm: llm, out: &lockedBuffer{}}
	engine := NewEngine(Config{StepTimeout: 5 * time.Second}, llm, func(ctx context.Context, opts interfaces.RunOptions) (Browser, error) {
		return f.browser, nil
	}, arbor.NewNoOpLogger())

	run, err := engine.NewRun(interfaces.RunOptions{
		SessionID: "session_test",
		AgentID:   "agent_test",
		Task:      "log in as demo",
		MaxSteps:  maxSteps,
		LogWriter: f.out,
		OnStep: func(state models.BrowserState, output models.ModelOutput, stepNumber int) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.steps = append(f.steps, stepNumber)
		},
		OnDone: func(history *models.RunHistory) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.done++
		},
		AskHuman: askHuman,
	})
	require.NoError(t, err)
	return f, run
}

func (f *runFixture) doneCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func TestParsePage(t *testing.T) {
	page, err := ParsePage("https://example.com/login", "", loginPage)
	require.NoError(t, err)

	assert.Equal(t, "Login", page.Title)
	require.Len(t, page.Elements, 4, "hidden inputs and hidden buttons are skipped")

	username := page.Elements[0]
	assert.Equal(t, 0, username.Index)
	assert.Equal(t, "input", username.TagName)
	assert.Equal(t, "html/body/div[2]/form/input[1]", username.XPath)
	assert.Equal(t, "input#username", username.CSSSelector)
	assert.Equal(t, "Email", username.Text)
	assert.Equal(t, []string{"html", "body", "div", "form", "input"}, username.ParentPath)

	login := page.Elements[2]
	assert.Equal(t, "html/body/div[2]/form/button", login.XPath)
	assert.Equal(t, "/html/body/div[2]/form/button", login.Selector())
	assert.Equal(t, "Log in", login.Text)
	assert.Equal(t, `[2]<button id="login">Log in</button>`, login.String())

	assert.Equal(t, "a", page.Elements[3].TagName)
	assert.Contains(t, page.Content, "Welcome back")
	assert.NotContains(t, page.Content, "var x")

	_, ok := page.Element(9)
	assert.False(t, ok)
}

func TestCSSSelector(t *testing.T) {
	assert.Equal(t, "button#go", cssSelector("button", map[string]string{"id": "go"}))
	assert.Equal(t, "button.a.b", cssSelector("button", map[string]string{"id": "has space", "class": "c b a"}))
	assert.Equal(t, `input[name="q"]`, cssSelector("input", map[string]string{"name": "q"}))
}

func TestParseReply(t *testing.T) {
	r, err := ParseReply("```json\n" + reply("open login", `[{"click_element": {"index": 2}}, {"done": {"text": "ok", "success": false}}]`) + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "open login", r.CurrentState.NextGoal)

	actions := r.Actions()
	require.Len(t, actions, 2)
	index, ok := actions[0].Index()
	assert.True(t, ok)
	assert.Equal(t, 2, index)
	assert.False(t, actions[1].Bool("success", true))
	assert.Equal(t, "ok", actions[1].Text("text"))

	output := r.ModelOutput()
	require.Len(t, output.Actions, 2)
	assert.Equal(t, "ClickAction", output.Actions[0].ActionType)
	assert.Equal(t, `{"index":2}`, output.Actions[0].Details)
	assert.Equal(t, "DoneAction", output.Actions[1].ActionType)

	_, err = ParseReply(`{"current_state": {}, "action": []}`)
	assert.Error(t, err)
	_, err = ParseReply("no idea")
	assert.Error(t, err)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, kb.Enter, keyString("Enter"))
	assert.Equal(t, kb.Tab, keyString(" tab "))
	assert.Equal(t, "hello", keyString("hello"))
}

func TestRun_CompletesTask(t *testing.T) {
	llm := newScriptedLLM(
		reply("fill the form", `[{"input_text": {"index": 0, "text": "demo"}}, {"click_element": {"index": 2}}]`),
		reply("finish", `[{"done": {"text": "logged in", "success": true}}]`),
	)
	f, run := newRunFixture(t, llm, 10, nil)

	history, err := run.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, history.TotalSteps())
	assert.True(t, history.IsSuccessful())
	assert.Equal(t, "logged in", history.FinalResult())
	assert.Equal(t, []int{1, 2}, f.steps)
	assert.Equal(t, 1, f.doneCalls())

	first := history.History[0]
	require.Len(t, first.State.InteractedElement, 2)
	assert.Equal(t, "html/body/div[2]/form/button", first.State.InteractedElement[1].XPath)
	assert.Equal(t, "fill the form", first.ModelOutput.CurrentState.NextGoal)

	assert.Equal(t, []string{
		"input /html/body/div[2]/form/input[1] demo",
		"click /html/body/div[2]/form/button",
	}, f.browser.Calls())
	assert.True(t, f.browser.closed)

	out := f.out.String()
	assert.Contains(t, out, "✨ Starting task: log in as demo\n")
	assert.Contains(t, out, "🎯 Agent Next Task: fill the form\n")
	assert.Contains(t, out, "✔️ Task Status: Success - ok\n")
	assert.Contains(t, out, "📄 Result: logged in\n")
	assert.Contains(t, out, "✅ Task completed")

	assert.Contains(t, llm.Prompt(2), "Step 1: ⌨️ Input \"demo\" into element 0")
}

func TestRun_NavigationEndsActionSequence(t *testing.T) {
	llm := newScriptedLLM(
		reply("go", `[{"go_to_url": {"url": "https://example.com/next"}}, {"click_element": {"index": 2}}]`),
		reply("bad index", `[{"click_element": {"index": 42}}]`),
		reply("finish", `[{"done": {"text": "gave up", "success": false}}]`),
	)
	f, run := newRunFixture(t, llm, 10, nil)

	history, err := run.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"navigate https://example.com/next"}, f.browser.Calls())

	require.Len(t, history.History[0].Result, 1)
	assert.Empty(t, history.History[0].Result[0].Error)
	assert.Contains(t, history.History[1].Result[0].Error, "element index 42 does not exist")

	assert.True(t, history.IsDone())
	assert.False(t, history.IsSuccessful())
	assert.Contains(t, f.out.String(), "⚠️ Task ended without success")
}

func TestRun_MaxStepsExhausted(t *testing.T) {
	llm := newScriptedLLM(
		reply("scroll", `[{"scroll_down": {}}]`),
		reply("scroll", `[{"scroll_up": {}}]`),
	)
	f, run := newRunFixture(t, llm, 2, nil)

	history, err := run.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, history.TotalSteps())
	assert.False(t, history.IsDone())
	assert.Equal(t, 1, f.doneCalls())
	assert.Contains(t, f.out.String(), "Failed to complete task in maximum steps")
}

func TestRun_ConsecutiveFailuresError(t *testing.T) {
	llm := newScriptedLLM() // Every call fails
	f, run := newRunFixture(t, llm, 10, nil)

	_, err := run.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 consecutive failures")
	assert.Equal(t, 0, f.doneCalls())
}

func TestRun_PauseAddTaskResume(t *testing.T) {
	llm := newScriptedLLM(
		reply("first", `[{"scroll_down": {}}]`),
		reply("finish", `[{"done": {"text": "ok", "success": true}}]`),
	)
	llm.gate = make(chan struct{})
	f, run := newRunFixture(t, llm, 10, nil)

	result := make(chan error, 1)
	go func() {
		_, err := run.Run(context.Background())
		result <- err
	}()

	require.Equal(t, 1, <-llm.called)
	run.Pause()
	run.AddTask("use the demo account")
	llm.gate <- struct{}{}

	select {
	case n := <-llm.called:
		t.Fatalf("planner called (call %d) while paused", n)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Contains(t, f.out.String(), "⏸️ Waiting for the operator to resume")

	run.Resume()
	require.Equal(t, 2, <-llm.called)
	llm.gate <- struct{}{}

	require.NoError(t, <-result)
	assert.Contains(t, llm.Prompt(2), "New instruction from the operator: use the demo account")
	assert.Contains(t, f.out.String(), "📝 New instruction: use the demo account")
}

func TestRun_StopWhilePaused(t *testing.T) {
	llm := newScriptedLLM(reply("first", `[{"scroll_down": {}}]`))
	llm.gate = make(chan struct{})
	f, run := newRunFixture(t, llm, 10, nil)

	result := make(chan error, 1)
	go func() {
		_, err := run.Run(context.Background())
		result <- err
	}()

	<-llm.called
	run.Pause()
	llm.gate <- struct{}{}
	run.Stop()
	run.Stop()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not observe stop")
	}
	assert.Equal(t, 0, f.doneCalls())
}

func TestRun_ContextCancelled(t *testing.T) {
	llm := newScriptedLLM(reply("first", `[{"scroll_down": {}}]`))
	llm.gate = make(chan struct{})
	_, run := newRunFixture(t, llm, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := run.Run(ctx)
		result <- err
	}()

	<-llm.called
	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)
}

func TestRun_AskHuman(t *testing.T) {
	llm := newScriptedLLM(
		reply("ask", `[{"ask_human": {"question": "Which account?"}}]`),
		reply("finish", `[{"done": {"text": "ok", "success": true}}]`),
	)
	var asked string
	_, run := newRunFixture(t, llm, 10, func(ctx context.Context, question string) (string, error) {
		asked = question
		return "the demo one", nil
	})

	history, err := run.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Which account?", asked)
	assert.Contains(t, history.History[0].Result[0].ExtractedContent, "the demo one")
	assert.Contains(t, llm.Prompt(2), "the demo one")
}

func TestRun_AskHumanWithoutOperator(t *testing.T) {
	llm := newScriptedLLM(
		reply("ask", `[{"ask_human": {"question": "Which account?"}}]`),
		reply("finish", `[{"done": {"text": "ok", "success": true}}]`),
	)
	_, run := newRunFixture(t, llm, 10, nil)

	history, err := run.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, history.History[0].Result[0].Error, "no operator")
}

func TestEngine_NewRunValidation(t *testing.T) {
	engine := NewEngine(Config{}, newScriptedLLM(), func(ctx context.Context, opts interfaces.RunOptions) (Browser, error) {
		return nil, errors.New("no chrome")
	}, arbor.NewNoOpLogger())

	_, err := engine.NewRun(interfaces.RunOptions{Task: "  "})
	assert.Error(t, err)

	run, err := engine.NewRun(interfaces.RunOptions{Task: "x"})
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	assert.ErrorContains(t, err, "no chrome")

	_, err = run.Run(context.Background())
	assert.ErrorContains(t, err, "already started")
}

func TestPlannerPromptMentionsActionLimit(t *testing.T) {
	prompt := fmt.Sprintf(plannerSystemPrompt, 5)
	assert.True(t, strings.Contains(prompt, "at most 5 actions"))
}
