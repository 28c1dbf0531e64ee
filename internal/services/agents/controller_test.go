package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/models"
)

// runCommand is executed on the fake run's goroutine
type runCommand struct {
	fn      func(opts interfaces.RunOptions)
	finish  bool
	history *models.RunHistory
	err     error
	done    chan struct{}
}

// fakeRun is driven step by step from the test through its command channel
type fakeRun struct {
	opts     interfaces.RunOptions
	commands chan runCommand

	mu      sync.Mutex
	paused  bool
	stopped bool
	tasks   []string
}

func (r *fakeRun) Run(ctx context.Context) (*models.RunHistory, error) {
	for {
		select {
		case cmd := <-r.commands:
			if cmd.finish {
				if cmd.err == nil && r.opts.OnDone != nil {
					r.opts.OnDone(cmd.history)
				}
				close(cmd.done)
				return cmd.history, cmd.err
			}
			func() {
				defer close(cmd.done)
				cmd.fn(r.opts)
			}()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *fakeRun) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

func (r *fakeRun) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

func (r *fakeRun) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

func (r *fakeRun) AddTask(instruction string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, instruction)
}

func (r *fakeRun) addedTasks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tasks...)
}

// submit hands cmd to the run goroutine and waits for it to be handled.
// It never touches testing.T so it can be called from any goroutine.
func (r *fakeRun) submit(cmd runCommand) error {
	select {
	case r.commands <- cmd:
	case <-time.After(2 * time.Second):
		return errors.New("run is not accepting commands")
	}
	<-cmd.done
	return nil
}

// do runs fn on the run goroutine and waits for it to return
func (r *fakeRun) do(t *testing.T, fn func(opts interfaces.RunOptions)) {
	t.Helper()
	require.NoError(t, r.submit(runCommand{fn: fn, done: make(chan struct{})}))
}

func (r *fakeRun) step(t *testing.T, n int) {
	r.do(t, func(opts interfaces.RunOptions) {
		opts.OnStep(
			models.BrowserState{URL: "https://example.com", Title: "Example"},
			models.ModelOutput{NextGoal: "click login", Actions: []models.ActionInfo{{ActionType: "ClickAction", Details: "#login"}}},
			n,
		)
	})
}

func (r *fakeRun) finish(t *testing.T, history *models.RunHistory, err error) {
	t.Helper()
	require.NoError(t, r.submit(runCommand{finish: true, history: history, err: err, done: make(chan struct{})}))
}

// fakeEngine hands out fakeRuns and remembers them
type fakeEngine struct {
	mu   sync.Mutex
	runs []*fakeRun
	err  error
}

func (e *fakeEngine) NewRun(opts interfaces.RunOptions) (interfaces.AutomationRun, error) {
	if e.err != nil {
		return nil, e.err
	}
	run := &fakeRun{opts: opts, commands: make(chan runCommand)}
	e.mu.Lock()
	e.runs = append(e.runs, run)
	e.mu.Unlock()
	return run, nil
}

func (e *fakeEngine) last(t *testing.T) *fakeRun {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.runs)
	return e.runs[len(e.runs)-1]
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(event models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) all() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

func (p *recordingPublisher) ofKind(kind models.EventKind) []models.Event {
	var out []models.Event
	for _, e := range p.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func successfulHistory(steps int) *models.RunHistory {
	success := true
	history := &models.RunHistory{}
	for i := 1; i <= steps; i++ {
		item := models.HistoryItem{StepNumber: i}
		if i == steps {
			item.Result = []models.ActionResult{{IsDone: true, Success: &success, ExtractedContent: "logged in"}}
		}
		history.History = append(history.History, item)
	}
	return history
}

func newTestController(t *testing.T) (*Controller, *fakeEngine, *recordingPublisher) {
	t.Helper()
	engine := &fakeEngine{}
	publisher := &recordingPublisher{}
	c := NewController(ControllerOptions{
		Engine:    engine,
		Run:       interfaces.RunOptions{SessionID: "session_test", AgentID: "agent_test"},
		Publisher: publisher,
		Logger:    arbor.NewNoOpLogger(),
	})
	return c, engine, publisher
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish")
	}
}

func TestController_StartOnlyFromIdle(t *testing.T) {
	c, engine, publisher := newTestController(t)
	assert.Equal(t, models.AgentStateIdle, c.State())

	require.NoError(t, c.Start(context.Background(), "log in", 10))
	assert.Equal(t, models.AgentStateRunning, c.State())

	err := c.Start(context.Background(), "again", 10)
	assert.ErrorIs(t, err, models.ErrAlreadyStarted)

	logs := publisher.ofKind(models.EventLog)
	require.NotEmpty(t, logs)
	msg := logs[0].Payload.(models.LogMessage)
	assert.Equal(t, "🚀 Agent agent_test registered and starting task: log in", msg.Message)
	assert.Equal(t, "session_test", logs[0].SessionID)

	engine.last(t).finish(t, successfulHistory(1), nil)
	waitDone(t, c)
}

func TestController_StartFailsWhenEngineFails(t *testing.T) {
	c, engine, _ := newTestController(t)
	engine.err = errors.New("no browser")

	err := c.Start(context.Background(), "log in", 10)
	require.Error(t, err)
	assert.Equal(t, models.AgentStateIdle, c.State())
}

func TestController_ControlLegality(t *testing.T) {
	c, engine, _ := newTestController(t)

	assert.False(t, c.Pause(), "pause before start")
	assert.False(t, c.Resume(), "resume before start")
	assert.False(t, c.Stop(), "stop before start")
	assert.False(t, c.UpdateTask("x"), "update before start")
	assert.Equal(t, models.AgentStateIdle, c.State())

	require.NoError(t, c.Start(context.Background(), "log in", 10))
	run := engine.last(t)

	assert.False(t, c.Resume(), "resume while running")
	assert.False(t, c.UpdateTask("x"), "update while running")
	assert.Equal(t, models.AgentStateRunning, c.State())

	assert.True(t, c.Pause())
	assert.False(t, c.Pause(), "pause while paused")
	assert.Equal(t, models.AgentStatePaused, c.State())

	assert.False(t, c.UpdateTask(""), "empty instruction")
	assert.True(t, c.UpdateTask("first"))
	assert.True(t, c.UpdateTask("second"))
	assert.Equal(t, "first\nsecond", c.Status().Metadata["pending_task"])

	assert.True(t, c.Resume())
	assert.Equal(t, models.AgentStateRunning, c.State())
	assert.Equal(t, []string{"first\nsecond"}, run.addedTasks())
	_, pending := c.Status().Metadata["pending_task"]
	assert.False(t, pending)

	run.finish(t, successfulHistory(2), nil)
	waitDone(t, c)
	assert.Equal(t, models.AgentStateCompleted, c.State())

	assert.False(t, c.Pause(), "pause after completion")
	assert.False(t, c.Stop(), "stop after completion")
}

func TestController_StopIsIdempotent(t *testing.T) {
	c, engine, publisher := newTestController(t)
	require.NoError(t, c.Start(context.Background(), "log in", 10))
	run := engine.last(t)

	require.True(t, c.Pause())
	assert.True(t, c.Stop())
	assert.False(t, c.Stop())
	assert.Equal(t, models.AgentStateStopped, c.State())

	waitDone(t, c)
	assert.Equal(t, models.AgentStateStopped, c.State())
	assert.NoError(t, c.Wait(context.Background()))

	run.mu.Lock()
	assert.True(t, run.stopped)
	run.mu.Unlock()

	completed := publisher.ofKind(models.EventAgentCompleted)
	require.Len(t, completed, 1)
	completion := completed[0].Payload.(models.Completion)
	assert.False(t, completion.Success)
	assert.Equal(t, models.AgentStateStopped, completion.FinalStatus.State)
}

func TestController_FailureIsReRaised(t *testing.T) {
	c, engine, publisher := newTestController(t)
	require.NoError(t, c.Start(context.Background(), "log in", 10))

	engine.last(t).finish(t, nil, errors.New("browser crashed"))
	waitDone(t, c)

	assert.Equal(t, models.AgentStateError, c.State())
	err := c.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser crashed")

	all := publisher.all()
	require.GreaterOrEqual(t, len(all), 3)
	last := all[len(all)-1]
	assert.Equal(t, models.EventAgentCompleted, last.Kind)
	assert.Equal(t, models.EventError, all[len(all)-2].Kind)

	notice := all[len(all)-2].Payload.(models.ErrorNotice)
	assert.Equal(t, "Error occurred: browser crashed", notice.Message)

	var errorLogs int
	for _, e := range publisher.ofKind(models.EventLog) {
		if e.Payload.(models.LogMessage).Level == "ERROR" {
			errorLogs++
		}
	}
	assert.Equal(t, 1, errorLogs)
	assert.Equal(t, "browser crashed", c.Record().ErrorMessage)
}

func TestController_StopAfterRunReturnedKeepsFailure(t *testing.T) {
	engine := &fakeEngine{}
	publisher := &recordingPublisher{}
	draining := make(chan struct{})
	release := make(chan struct{})
	c := NewController(ControllerOptions{
		Engine:    engine,
		Run:       interfaces.RunOptions{SessionID: "session_test", AgentID: "agent_test"},
		Publisher: publisher,
		Logger:    arbor.NewNoOpLogger(),
		BeforeTerminal: func() {
			close(draining)
			<-release
		},
	})

	require.NoError(t, c.Start(context.Background(), "log in", 10))
	engine.last(t).finish(t, nil, errors.New("browser crashed"))

	select {
	case <-draining:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal hook not reached")
	}
	assert.False(t, c.Stop(), "stop after the run returned must be refused")
	assert.False(t, c.Pause())
	close(release)
	waitDone(t, c)

	assert.Equal(t, models.AgentStateError, c.State())
	err := c.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser crashed")
	assert.Len(t, publisher.ofKind(models.EventError), 1)
}

func TestController_PanicBecomesError(t *testing.T) {
	c, engine, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background(), "log in", 10))

	run := engine.last(t)
	run.do(t, func(interfaces.RunOptions) { panic("engine bug") })

	waitDone(t, c)
	assert.Equal(t, models.AgentStateError, c.State())
	assert.Error(t, c.Wait(context.Background()))
}

func TestController_CompletionOutcome(t *testing.T) {
	t.Run("successful", func(t *testing.T) {
		c, engine, publisher := newTestController(t)
		require.NoError(t, c.Start(context.Background(), "log in", 10))
		engine.last(t).finish(t, successfulHistory(3), nil)
		waitDone(t, c)

		completion := publisher.ofKind(models.EventAgentCompleted)[0].Payload.(models.Completion)
		assert.True(t, completion.Success)
		assert.Equal(t, "🎉", completion.StatusIcon)
		assert.Equal(t, 3, completion.TotalSteps)
		assert.Equal(t, "Agent agent_test completed successfully", completion.CompletionMessage)
	})

	t.Run("with issues", func(t *testing.T) {
		c, engine, publisher := newTestController(t)
		require.NoError(t, c.Start(context.Background(), "log in", 10))
		engine.last(t).finish(t, &models.RunHistory{History: []models.HistoryItem{{StepNumber: 1}}}, nil)
		waitDone(t, c)

		completion := publisher.ofKind(models.EventAgentCompleted)[0].Payload.(models.Completion)
		assert.False(t, completion.Success)
		assert.Equal(t, "⚠️", completion.StatusIcon)
		assert.Equal(t, models.AgentStateCompleted, c.State())
	})
}

func TestController_StepsAreAdapted(t *testing.T) {
	c, engine, publisher := newTestController(t)
	require.NoError(t, c.Start(context.Background(), "log in", 10))
	run := engine.last(t)

	run.step(t, 1)
	run.step(t, 2)

	steps := publisher.ofKind(models.EventAgentStep)
	require.Len(t, steps, 2)

	update := steps[1].Payload.(models.StepUpdate)
	assert.Equal(t, "agent_test", update.AgentID)
	assert.Equal(t, 2, update.StepNumber)
	assert.Equal(t, "https://example.com", update.URL)
	require.NotNil(t, update.ModelOutput)
	require.Len(t, update.ModelOutput.Actions, 1)
	assert.Equal(t, "👆", update.ModelOutput.Actions[0].Icon)
	assert.Equal(t, "Click", update.ModelOutput.Actions[0].DisplayName)
	assert.Equal(t, 2, c.Status().CurrentStep)

	run.finish(t, successfulHistory(2), nil)
	waitDone(t, c)
}

func TestController_ReportsEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var states []models.AgentState
	var beforeTerminal int

	engine := &fakeEngine{}
	c := NewController(ControllerOptions{
		Engine:    engine,
		Run:       interfaces.RunOptions{SessionID: "session_rec", AgentID: "agent_rec"},
		Publisher: &recordingPublisher{},
		Logger:    arbor.NewNoOpLogger(),
		OnTransition: func(record models.AgentRun) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, record.State)
		},
		BeforeTerminal: func() { beforeTerminal++ },
	})

	require.NoError(t, c.Start(context.Background(), "task", 5))
	require.True(t, c.Pause())
	require.True(t, c.Resume())
	engine.last(t).finish(t, successfulHistory(1), nil)
	waitDone(t, c)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.AgentState{
		models.AgentStateRunning,
		models.AgentStatePaused,
		models.AgentStateRunning,
		models.AgentStateCompleted,
	}, states)
	assert.Equal(t, 1, beforeTerminal)

	record := c.Record()
	assert.True(t, record.Success)
	assert.NotNil(t, record.FinishedAt)
	assert.Equal(t, "task", record.Task)
}

func TestController_WaitHonoursContext(t *testing.T) {
	c, engine, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background(), "task", 5))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)

	engine.last(t).finish(t, successfulHistory(1), nil)
	waitDone(t, c)
}

func TestActionIcon(t *testing.T) {
	assert.Equal(t, "⌨️", ActionIcon("InputAction"))
	assert.Equal(t, "🧭", ActionIcon("NavigateAction"))
	assert.Equal(t, "🎯", ActionIcon("SomethingNew"))
	assert.Equal(t, "Navigate", DisplayName("NavigateAction"))
	assert.Equal(t, "Action", DisplayName("Action"))
}
