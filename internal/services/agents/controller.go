package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/metrics"
	"github.com/ternarybob/agentstream/internal/models"
)

// ControllerOptions wires one controller
type ControllerOptions struct {
	Engine    interfaces.AutomationEngine
	Run       interfaces.RunOptions // Base options; Start sets Task, MaxSteps and OnStep, and runs OnDone after the summary event
	Publisher interfaces.EventPublisher
	Logger    arbor.ILogger

	// OnTransition receives the run record after every state change, including the terminal one
	OnTransition func(record models.AgentRun)

	// OnStarted runs once the automation run exists, before Start publishes anything
	OnStarted func()

	// BeforeTerminal runs after the automation returns and before terminal events are published
	BeforeTerminal func()
}

// Controller owns the lifecycle of one session's automation run.
//
//	idle -> running -> paused | stopped | completed | error
//	paused -> running | stopped
//
// Every method is safe for concurrent use. Control methods return false
// without side effects when the current state does not allow them.
type Controller struct {
	sessionID string
	agentID   string
	opts      ControllerOptions
	logger    arbor.ILogger

	mu          sync.Mutex
	state       models.AgentState
	task        string
	pendingTask string
	currentStep int
	startedAt   time.Time
	lastUpdate  time.Time
	metadata    map[string]interface{}
	run         interfaces.AutomationRun
	cancel      context.CancelFunc
	history     *models.RunHistory
	runErr      error
	finishedAt  *time.Time
	returned    bool // run.Run has returned; the outcome can no longer be changed by control calls

	done chan struct{}
}

// NewController creates an idle controller
func NewController(opts ControllerOptions) *Controller {
	return &Controller{
		sessionID: opts.Run.SessionID,
		agentID:   opts.Run.AgentID,
		opts:      opts,
		logger:    opts.Logger,
		state:     models.AgentStateIdle,
		metadata:  make(map[string]interface{}),
		done:      make(chan struct{}),
	}
}

// SessionID returns the session this controller serves
func (c *Controller) SessionID() string { return c.sessionID }

// AgentID returns the agent identifier
func (c *Controller) AgentID() string { return c.agentID }

// Start creates the automation run and executes it in the background.
// Only legal from idle. ctx bounds the background run, not this call.
func (c *Controller) Start(ctx context.Context, task string, maxSteps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != models.AgentStateIdle {
		return fmt.Errorf("%w: session %s is %s", models.ErrAlreadyStarted, c.sessionID, c.state)
	}

	runOpts := c.opts.Run
	runOpts.Task = task
	runOpts.MaxSteps = maxSteps
	runOpts.OnStep = NewStepAdapter(c.sessionID, c.agentID, c.opts.Publisher, c.recordStep)
	runOpts.OnDone = NewDoneAdapter(c.sessionID, c.agentID, c.opts.Publisher)
	if extra := c.opts.Run.OnDone; extra != nil {
		summary := runOpts.OnDone
		runOpts.OnDone = func(history *models.RunHistory) {
			summary(history)
			extra(history)
		}
	}

	run, err := c.opts.Engine.NewRun(runOpts)
	if err != nil {
		return fmt.Errorf("failed to create automation run: %w", err)
	}
	if c.opts.OnStarted != nil {
		c.opts.OnStarted()
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.run = run
	c.cancel = cancel
	c.task = task
	c.startedAt = time.Now()
	c.metadata["max_steps"] = maxSteps
	c.transitionLocked(models.AgentStateRunning)

	c.publishLog("INFO", fmt.Sprintf("🚀 Agent %s registered and starting task: %s", c.agentID, task))
	c.logger.Info().Str("session_id", c.sessionID).Str("agent_id", c.agentID).Int("max_steps", maxSteps).Msg("Agent started")

	go c.execute(runCtx, run)
	return nil
}

// execute runs the automation and records the outcome
func (c *Controller) execute(ctx context.Context, run interfaces.AutomationRun) {
	defer close(c.done)

	history, err := c.runSafely(ctx, run)

	c.mu.Lock()
	c.returned = true
	c.mu.Unlock()

	if c.opts.BeforeTerminal != nil {
		c.opts.BeforeTerminal()
	}

	c.finish(history, err)
}

// runSafely converts a panic inside the engine into an error
func (c *Controller) runSafely(ctx context.Context, run interfaces.AutomationRun) (history *models.RunHistory, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("automation panic: %v", r)
		}
	}()
	return run.Run(ctx)
}

func (c *Controller) finish(history *models.RunHistory, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = history
	if c.cancel != nil {
		c.cancel()
	}

	now := time.Now()
	c.finishedAt = &now
	if steps := history.TotalSteps(); steps > c.currentStep {
		c.currentStep = steps
	}

	var target models.AgentState
	switch {
	case c.state == models.AgentStateStopped:
		// Stop already transitioned; the run's return value is irrelevant
	case err == nil:
		target = models.AgentStateCompleted
	case errors.Is(err, context.Canceled):
		target = models.AgentStateStopped
	default:
		c.runErr = err
		target = models.AgentStateError
	}

	if target == "" {
		c.reportLocked()
	} else {
		if c.state == models.AgentStatePaused && !models.CanTransition(c.state, target) {
			// A run that returns while paused has left the pause gate
			c.state = models.AgentStateRunning
		}
		c.transitionLocked(target)
	}

	c.publishTerminalLocked()
}

func (c *Controller) publishTerminalLocked() {
	completion := models.Completion{
		AgentID:     c.agentID,
		FinalStatus: c.statusLocked(),
		TotalSteps:  c.currentStep,
	}

	switch c.state {
	case models.AgentStateCompleted:
		completion.Success = c.history.IsSuccessful()
		if completion.Success {
			completion.StatusIcon = "🎉"
			completion.CompletionMessage = fmt.Sprintf("Agent %s completed successfully", c.agentID)
		} else {
			completion.StatusIcon = "⚠️"
			completion.CompletionMessage = fmt.Sprintf("Agent %s completed with issues", c.agentID)
		}
		c.publishLog("INFO", completion.StatusIcon+" "+completion.CompletionMessage)
		c.logger.Info().Str("session_id", c.sessionID).Bool("success", completion.Success).Int("steps", c.currentStep).Msg("Agent completed")

	case models.AgentStateStopped:
		completion.StatusIcon = "⏹️"
		completion.CompletionMessage = fmt.Sprintf("Agent %s stopped", c.agentID)
		c.logger.Info().Str("session_id", c.sessionID).Int("steps", c.currentStep).Msg("Agent stopped")

	case models.AgentStateError:
		completion.StatusIcon = "❌"
		completion.CompletionMessage = fmt.Sprintf("Agent %s failed: %v", c.agentID, c.runErr)
		c.publishLog("ERROR", completion.CompletionMessage)
		c.opts.Publisher.Publish(models.NewEvent(models.EventError, c.sessionID, models.ErrorNotice{
			Timestamp: time.Now().Format(time.RFC3339),
			AgentID:   c.agentID,
			Message:   fmt.Sprintf("Error occurred: %v", c.runErr),
		}))
		c.logger.Error().Str("session_id", c.sessionID).Err(c.runErr).Msg("Agent run failed")
	}

	c.opts.Publisher.Publish(models.NewEvent(models.EventAgentCompleted, c.sessionID, completion))
}

// Pause asks the run to suspend at its next safe point. Legal only while running.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != models.AgentStateRunning || c.returned {
		return false
	}

	c.run.Pause()
	c.transitionLocked(models.AgentStatePaused)
	c.publishLog("INFO", fmt.Sprintf("⏸️ Agent %s paused", c.agentID))
	c.logger.Debug().Str("session_id", c.sessionID).Msg("Agent paused")
	return true
}

// Resume continues a paused run, handing it any pending instruction first
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != models.AgentStatePaused {
		return false
	}

	if c.pendingTask != "" {
		c.run.AddTask(c.pendingTask)
		c.metadata["last_instruction"] = c.pendingTask
		c.pendingTask = ""
	}
	c.run.Resume()
	c.transitionLocked(models.AgentStateRunning)
	c.publishLog("INFO", fmt.Sprintf("▶️ Agent %s resumed", c.agentID))
	c.logger.Debug().Str("session_id", c.sessionID).Msg("Agent resumed")
	return true
}

// Stop requests cooperative cancellation. Legal while running or paused and
// the run has not yet returned.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsActive() || c.returned {
		return false
	}

	c.run.Stop()
	c.cancel()
	c.transitionLocked(models.AgentStateStopped)
	c.publishLog("INFO", fmt.Sprintf("🛑 Agent %s stop requested", c.agentID))
	c.logger.Debug().Str("session_id", c.sessionID).Msg("Agent stop requested")
	return true
}

// UpdateTask queues an instruction for the run to consume on resume.
// Legal only while paused; successive updates are appended.
func (c *Controller) UpdateTask(instruction string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != models.AgentStatePaused || instruction == "" {
		return false
	}

	if c.pendingTask == "" {
		c.pendingTask = instruction
	} else {
		c.pendingTask = c.pendingTask + "\n" + instruction
	}
	c.lastUpdate = time.Now()
	c.publishLog("INFO", fmt.Sprintf("📝 Agent %s task updated", c.agentID))
	return true
}

// State returns the current lifecycle state
func (c *Controller) State() models.AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the session's lifecycle
func (c *Controller) Status() models.AgentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() models.AgentStatus {
	metadata := make(map[string]interface{}, len(c.metadata)+1)
	for k, v := range c.metadata {
		metadata[k] = v
	}
	if c.pendingTask != "" {
		metadata["pending_task"] = c.pendingTask
	}

	return models.AgentStatus{
		AgentID:     c.agentID,
		SessionID:   c.sessionID,
		State:       c.state,
		CurrentStep: c.currentStep,
		Task:        c.task,
		StartedAt:   c.startedAt,
		LastUpdate:  c.lastUpdate,
		Metadata:    metadata,
	}
}

// Record returns the persistable run record
func (c *Controller) Record() models.AgentRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked()
}

func (c *Controller) recordLocked() models.AgentRun {
	record := models.AgentRun{
		SessionID:  c.sessionID,
		AgentID:    c.agentID,
		Task:       c.task,
		State:      c.state,
		TotalSteps: c.currentStep,
		History:    c.history,
		StartedAt:  c.startedAt,
		UpdatedAt:  c.lastUpdate,
		FinishedAt: c.finishedAt,
	}
	if c.state == models.AgentStateCompleted {
		record.Success = c.history.IsSuccessful()
	}
	if c.runErr != nil {
		record.ErrorMessage = c.runErr.Error()
	}
	return record
}

// Done is closed once the run has returned and terminal events are published
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the run finishes. It returns the run failure when the
// session ended in error, and nil for completed or stopped sessions.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == models.AgentStateError {
		return fmt.Errorf("agent %s failed: %w", c.agentID, c.runErr)
	}
	return nil
}

// recordStep is called by the step adapter
func (c *Controller) recordStep(stepNumber int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stepNumber > c.currentStep {
		c.currentStep = stepNumber
	}
	c.lastUpdate = time.Now()
}

// transitionLocked moves to next, stamps the update time and reports the record.
// Callers have already checked legality.
func (c *Controller) transitionLocked(next models.AgentState) {
	prev := c.state
	if !models.CanTransition(prev, next) {
		c.logger.Warn().Str("session_id", c.sessionID).Str("from", string(prev)).Str("to", string(next)).Msg("Illegal agent transition ignored")
		return
	}

	c.state = next
	c.lastUpdate = time.Now()
	metrics.AgentTransitionsTotal.WithLabelValues(string(next)).Inc()

	c.reportLocked()
}

func (c *Controller) reportLocked() {
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(c.recordLocked())
	}
}

func (c *Controller) publishLog(level, message string) {
	c.opts.Publisher.Publish(models.NewEvent(models.EventLog, c.sessionID, models.LogMessage{
		Timestamp:  time.Now().Format(time.RFC3339),
		Level:      level,
		LoggerName: "agent.controller",
		Message:    message,
		StepNumber: c.currentStep,
	}))
}
