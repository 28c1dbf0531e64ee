// -----------------------------------------------------------------------
// Agent Manager - Session map, observer wiring and run persistence
// - Start: allocates a debug port, registers observers, starts the controller
// - Release: drops terminated sessions; the stored run record outlives them
// -----------------------------------------------------------------------

package agents

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/metrics"
	"github.com/ternarybob/agentstream/internal/models"
	"github.com/ternarybob/agentstream/internal/services/classifier"
	"github.com/ternarybob/agentstream/internal/services/events"
)

// Reason codes returned by Control
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeSessionMissing = "SESSION_NOT_FOUND"
	CodeNotPaused      = "AGENT_NOT_PAUSED"
	CodeInvalidAction  = "INVALID_ACTION"
)

// interactedPrefix introduces selectors captured while the agent was paused
const interactedPrefix = "User has manually interacted with the browser and these are the selectors that user interacted: "

// ManagerConfig holds the run defaults applied to every session
type ManagerConfig struct {
	MaxSteps      int
	Headless      bool
	ProfileDir    string // Per-session browser profiles are created beneath it
	AnswerTimeout time.Duration
	Stream        classifier.StreamConfig
}

// ManagerOptions wires the session manager
type ManagerOptions struct {
	Engine      interfaces.AutomationEngine
	Ports       interfaces.PortAllocator
	Publisher   interfaces.EventPublisher
	Registry    *events.Registry
	Storage     interfaces.RunStorage     // Optional
	Artifacts   interfaces.ArtifactStore  // Optional
	SessionLogs interfaces.SessionLogGate // Optional; closed ahead of each agent_completed
	Logger      arbor.ILogger
	Config      ManagerConfig
}

// Credentials are appended to the task so the agent can log in when asked
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StartRequest describes a new session
type StartRequest struct {
	SessionID   string                  // Optional; generated when empty
	Task        string                  // Free-text instruction
	TestCase    *models.TestCase        // Rendered into the instruction when set
	URL         string                  // Optional start page
	Credentials *Credentials            // Optional
	MaxSteps    int                     // 0 = configured default
	Headless    *bool                   // nil = configured default
	Observers   []interfaces.Connection // Subscribed to the session feed before the first event
}

// StartResult identifies the started session
type StartResult struct {
	SessionID string             `json:"session_id"`
	AgentID   string             `json:"agent_id"`
	DebugPort int                `json:"debug_port,omitempty"`
	Status    models.AgentStatus `json:"status"`

	controller *Controller
}

// Wait blocks until the session's run returns, re-raising a run failure
func (r StartResult) Wait(ctx context.Context) error {
	if r.controller == nil {
		return models.ErrSessionNotFound
	}
	return r.controller.Wait(ctx)
}

// Done is closed when the session's run has finished
func (r StartResult) Done() <-chan struct{} {
	if r.controller == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.controller.Done()
}

// ControlResult is the outcome of a control action
type ControlResult struct {
	SessionID     string              `json:"session_id"`
	Action        string              `json:"action"`
	TaskUpdated   bool                `json:"task_updated"`
	Success       bool                `json:"success"`
	CurrentStatus *models.AgentStatus `json:"current_status,omitempty"`

	Code  string `json:"-"`
	Error bool   `json:"-"` // Request could not be applied at all
}

type session struct {
	controller *Controller
	stream     *classifier.Stream

	mu        sync.Mutex
	resources models.SessionResources
	questions map[string]chan string
	order     []string // Pending question ids, oldest first
}

func (s *session) addArtifact(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources.Artifacts = append(s.resources.Artifacts, path)
}

func (s *session) snapshot() models.SessionResources {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionResources{
		DebugPort:         s.resources.DebugPort,
		CapturedSelectors: append([]string(nil), s.resources.CapturedSelectors...),
		Artifacts:         append([]string(nil), s.resources.Artifacts...),
	}
}

// sessionPublisher forwards to the bus, records artifact paths announced on
// the session feed and closes the session's log gate ahead of agent_completed
type sessionPublisher struct {
	next    interfaces.EventPublisher
	session *session
	logs    interfaces.SessionLogGate
}

func (p *sessionPublisher) Publish(event models.Event) {
	if msg, ok := event.Payload.(models.LogMessage); ok && msg.Category == models.LogCategoryArtifact && msg.Path != "" {
		p.session.addArtifact(msg.Path)
	}
	if event.Kind == models.EventAgentCompleted && p.logs != nil {
		p.logs.CloseSession(event.SessionID)
	}
	p.next.Publish(event)
}

// Manager owns the session map. Sessions are added on Start and removed when
// their run reaches a terminal state; the persisted run record outlives them.
type Manager struct {
	opts   ManagerOptions
	logger arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// NewManager creates a manager. Runs are bound to the manager's lifetime, not to
// the request that started them.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Config.MaxSteps <= 0 {
		opts.Config.MaxSteps = 100
	}
	if opts.Config.AnswerTimeout <= 0 {
		opts.Config.AnswerTimeout = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// BuildTask renders a start request into the instruction handed to the engine
func BuildTask(req StartRequest) string {
	var parts []string
	if req.URL != "" {
		parts = append(parts, fmt.Sprintf("Go to %s and make sure you are on the correct page.", req.URL))
	}
	if req.TestCase != nil {
		parts = append(parts, req.TestCase.Instruction())
	}
	if task := strings.TrimSpace(req.Task); task != "" {
		parts = append(parts, task)
	}
	if len(parts) == 0 {
		return ""
	}
	if c := req.Credentials; c != nil && c.Username != "" && c.Password != "" {
		parts = append(parts, fmt.Sprintf("If the user is not logged in, use the credentials %s and %s", c.Username, c.Password))
	}
	return strings.Join(parts, "\n")
}

// Start creates a session and launches its run in the background
func (m *Manager) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	if err := ctx.Err(); err != nil {
		return StartResult{}, err
	}

	task := BuildTask(req)
	if task == "" {
		return StartResult{}, fmt.Errorf("%w: task or test case is required", models.ErrInvalidRequest)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = common.NewSessionID()
	}
	agentID := common.NewAgentID()

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = m.opts.Config.MaxSteps
	}
	headless := m.opts.Config.Headless
	if req.Headless != nil {
		headless = *req.Headless
	}

	debugPort := 0
	if m.opts.Ports != nil {
		port, err := m.opts.Ports.Allocate()
		if err != nil {
			return StartResult{}, err
		}
		debugPort = port
	}

	// Lifecycle logs stay uncorrelated: the controller already publishes
	// them as structured events and a correlated copy would reach the feed
	// through the log consumer after agent_completed.
	logger := m.logger

	sess := &session{
		resources: models.SessionResources{DebugPort: debugPort},
		questions: make(map[string]chan string),
	}
	publisher := &sessionPublisher{next: m.opts.Publisher, session: sess, logs: m.opts.SessionLogs}
	sess.stream = classifier.NewStream(sessionID, publisher, m.opts.Config.Stream, logger)

	profileDir := ""
	if m.opts.Config.ProfileDir != "" {
		profileDir = filepath.Join(m.opts.Config.ProfileDir, sessionID)
	}

	sess.controller = NewController(ControllerOptions{
		Engine: m.opts.Engine,
		Run: interfaces.RunOptions{
			SessionID:  sessionID,
			AgentID:    agentID,
			DebugPort:  debugPort,
			Headless:   headless,
			ProfileDir: profileDir,
			LogWriter:  sess.stream,
			OnDone:     m.artifactHook(sessionID, sess, logger),
			AskHuman:   m.askHumanHook(sessionID, agentID, sess, publisher),
		},
		Publisher:      publisher,
		Logger:         logger,
		OnTransition:   func(record models.AgentRun) { m.persist(sess, record) },
		BeforeTerminal: sess.stream.Close,
		// Observers join and the start marker goes out only for a run that exists
		OnStarted: func() {
			if m.opts.Registry != nil {
				for _, conn := range req.Observers {
					m.opts.Registry.AddToSession(sessionID, conn)
				}
			}
			sess.stream.Start(m.ctx)
		},
	})

	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return StartResult{}, fmt.Errorf("%w: session %s", models.ErrAlreadyStarted, sessionID)
	}
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	if m.opts.SessionLogs != nil {
		m.opts.SessionLogs.OpenSession(sessionID)
	}
	if err := sess.controller.Start(m.ctx, task, maxSteps); err != nil {
		m.remove(sessionID)
		return StartResult{}, err
	}

	metrics.ActiveAgents.Inc()
	logger.Info().
		Str("session_id", sessionID).
		Str("agent_id", agentID).
		Int("debug_port", debugPort).
		Int("max_steps", maxSteps).
		Msg("Agent session started")

	m.wg.Add(1)
	common.SafeGo(logger, "agent-session", func() {
		defer m.wg.Done()
		defer m.release(sessionID)

		if err := sess.controller.Wait(context.Background()); err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Msg("Agent session failed")
			return
		}
		logger.Info().Str("session_id", sessionID).Str("state", string(sess.controller.State())).Msg("Agent session finished")
	})

	return StartResult{
		SessionID:  sessionID,
		AgentID:    agentID,
		DebugPort:  debugPort,
		Status:     sess.controller.Status(),
		controller: sess.controller,
	}, nil
}

// artifactHook saves the artifacts of a successful run and announces the
// elements file through the engine log, where the classifier turns it into an
// artifact event
func (m *Manager) artifactHook(sessionID string, sess *session, logger arbor.ILogger) interfaces.DoneHook {
	if m.opts.Artifacts == nil {
		return nil
	}
	return func(history *models.RunHistory) {
		if !history.IsSuccessful() {
			return
		}
		path, err := m.opts.Artifacts.SaveRunArtifacts(sessionID, history)
		if err != nil {
			logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to save run artifacts")
			return
		}
		_, _ = fmt.Fprintf(sess.stream, "filepath : %s\n", path)
	}
}

// askHumanHook publishes a question and waits for Answer, the timeout, or the run's cancellation
func (m *Manager) askHumanHook(sessionID, agentID string, sess *session, publisher interfaces.EventPublisher) interfaces.AskHumanHook {
	return func(ctx context.Context, question string) (string, error) {
		questionID := common.NewQuestionID()
		answer := make(chan string, 1)

		sess.mu.Lock()
		sess.questions[questionID] = answer
		sess.order = append(sess.order, questionID)
		sess.mu.Unlock()

		defer func() {
			sess.mu.Lock()
			delete(sess.questions, questionID)
			for i, id := range sess.order {
				if id == questionID {
					sess.order = append(sess.order[:i], sess.order[i+1:]...)
					break
				}
			}
			sess.mu.Unlock()
		}()

		publisher.Publish(models.NewEvent(models.EventAgentQuestion, sessionID, models.Interaction{
			Timestamp:  time.Now().Format(time.RFC3339),
			AgentID:    agentID,
			QuestionID: questionID,
			Question:   question,
			Message:    "🤔 Agent Question: " + question,
		}))

		timer := time.NewTimer(m.opts.Config.AnswerTimeout)
		defer timer.Stop()

		select {
		case response := <-answer:
			publisher.Publish(models.NewEvent(models.EventHumanResponse, sessionID, models.Interaction{
				Timestamp:  time.Now().Format(time.RFC3339),
				AgentID:    agentID,
				QuestionID: questionID,
				Response:   response,
				Message:    "👤 Human Response: " + response,
			}))
			return response, nil
		case <-timer.C:
			return "", fmt.Errorf("no answer to question %s within %s", questionID, m.opts.Config.AnswerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Answer delivers an operator response to a pending question. An empty
// questionID answers the oldest pending question.
func (m *Manager) Answer(sessionID, questionID, response string) error {
	sess, ok := m.lookup(sessionID)
	if !ok {
		return models.ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if questionID == "" {
		if len(sess.order) == 0 {
			return models.ErrNoPendingQuestion
		}
		questionID = sess.order[0]
	}

	answer, ok := sess.questions[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNoPendingQuestion, questionID)
	}

	select {
	case answer <- response:
		return nil
	default:
		return fmt.Errorf("%w: %s already answered", models.ErrNoPendingQuestion, questionID)
	}
}

// Control applies an operator action to a session
func (m *Manager) Control(sessionID string, action models.ControlAction, task string) ControlResult {
	result := ControlResult{SessionID: sessionID, Action: string(action)}

	if sessionID == "" || action == "" {
		result.Code, result.Error = CodeInvalidRequest, true
		return result
	}

	sess, ok := m.lookup(sessionID)
	if !ok {
		result.Code, result.Error = CodeSessionMissing, true
		return result
	}
	c := sess.controller

	switch action {
	case models.ControlPause:
		result.Success = c.Pause()

	case models.ControlResume:
		if c.State() == models.AgentStatePaused {
			if merged := mergeSelectors(task, sess.takeSelectors()); merged != "" {
				result.TaskUpdated = c.UpdateTask(merged)
			}
		}
		result.Success = c.Resume()

	case models.ControlStop:
		result.Success = c.Stop()

	case models.ControlUpdate:
		if strings.TrimSpace(task) == "" {
			result.Code, result.Error = CodeInvalidRequest, true
			return result
		}
		if c.State() != models.AgentStatePaused {
			result.Code, result.Error = CodeNotPaused, true
			return result
		}
		result.TaskUpdated = c.UpdateTask(task)
		result.Success = result.TaskUpdated

	default:
		result.Code, result.Error = CodeInvalidAction, true
		return result
	}

	status := c.Status()
	result.CurrentStatus = &status
	outcome := "FAILED"
	if result.Success {
		outcome = "SUCCEEDED"
	}
	result.Code = fmt.Sprintf("AGENT_%s_%s", strings.ToUpper(string(action)), outcome)

	m.logger.Debug().
		Str("session_id", sessionID).
		Str("action", string(action)).
		Bool("success", result.Success).
		Msg("Agent control applied")
	return result
}

func (s *session) takeSelectors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	selectors := s.resources.CapturedSelectors
	s.resources.CapturedSelectors = nil
	return selectors
}

// mergeSelectors folds captured selectors into the resume instruction
func mergeSelectors(task string, selectors []string) string {
	if len(selectors) == 0 {
		return task
	}

	quoted := make([]string, len(selectors))
	for i, s := range selectors {
		quoted[i] = "'" + s + "'"
	}
	interacted := interactedPrefix + "[" + strings.Join(quoted, ", ") + "]"

	if task == "" {
		return interacted
	}
	return task + " and " + interacted
}

// CaptureSelectors records selectors the operator interacted with while the agent was paused
func (m *Manager) CaptureSelectors(sessionID string, selectors []string) (int, error) {
	sess, ok := m.lookup(sessionID)
	if !ok {
		return 0, models.ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			sess.resources.CapturedSelectors = append(sess.resources.CapturedSelectors, s)
		}
	}
	return len(sess.resources.CapturedSelectors), nil
}

// Status returns the live status of a session, falling back to its persisted record
func (m *Manager) Status(ctx context.Context, sessionID string) (models.AgentStatus, error) {
	if sess, ok := m.lookup(sessionID); ok {
		return withResources(sess.controller.Status(), sess.snapshot()), nil
	}

	if m.opts.Storage == nil {
		return models.AgentStatus{}, models.ErrSessionNotFound
	}
	run, err := m.opts.Storage.GetRun(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return models.AgentStatus{}, models.ErrSessionNotFound
		}
		return models.AgentStatus{}, err
	}
	return statusFromRun(run), nil
}

// List returns the status of every in-memory session, oldest first
func (m *Manager) List() []models.AgentStatus {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	statuses := make([]models.AgentStatus, 0, len(sessions))
	for _, sess := range sessions {
		statuses = append(statuses, withResources(sess.controller.Status(), sess.snapshot()))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].StartedAt.Before(statuses[j].StartedAt)
	})
	return statuses
}

// History returns persisted run records, newest first
func (m *Manager) History(ctx context.Context, limit int) ([]*models.AgentRun, error) {
	if m.opts.Storage == nil {
		return []*models.AgentRun{}, nil
	}
	return m.opts.Storage.ListRuns(ctx, limit)
}

// Delete removes a finished session's persisted record. Active sessions must be stopped first.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if sess, ok := m.lookup(sessionID); ok && sess.controller.State().IsActive() {
		return fmt.Errorf("%w: session %s is still active", models.ErrInvalidState, sessionID)
	}
	if m.opts.Storage == nil {
		return models.ErrSessionNotFound
	}

	if err := m.opts.Storage.DeleteRun(ctx, sessionID); err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return models.ErrSessionNotFound
		}
		return err
	}
	return nil
}

// Shutdown stops every active session and waits for their runs to return or ctx to expire
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		sess.controller.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	defer m.cancel()
	select {
	case <-done:
		m.logger.Info().Int("sessions", len(sessions)).Msg("Agent sessions shut down")
		return nil
	case <-ctx.Done():
		m.logger.Warn().Int("sessions", len(sessions)).Msg("Timed out waiting for agent sessions to stop")
		return ctx.Err()
	}
}

func (m *Manager) lookup(sessionID string) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// release drops a terminated session and its resources
func (m *Manager) release(sessionID string) {
	m.remove(sessionID)
	metrics.ActiveAgents.Dec()
	m.logger.Debug().Str("session_id", sessionID).Msg("Agent session released")
}

// persist stores the run record; failures are logged and never affect the run
func (m *Manager) persist(sess *session, record models.AgentRun) {
	if m.opts.Storage == nil {
		return
	}

	record.Artifacts = sess.snapshot().Artifacts
	if err := m.opts.Storage.SaveRun(context.Background(), &record); err != nil {
		m.logger.Warn().Err(err).Str("session_id", record.SessionID).Msg("Failed to persist agent run")
	}
}

func withResources(status models.AgentStatus, resources models.SessionResources) models.AgentStatus {
	if status.Metadata == nil {
		status.Metadata = make(map[string]interface{})
	}
	if resources.DebugPort != 0 {
		status.Metadata["debug_port"] = resources.DebugPort
	}
	if len(resources.CapturedSelectors) > 0 {
		status.Metadata["captured_selectors"] = resources.CapturedSelectors
	}
	if len(resources.Artifacts) > 0 {
		status.Metadata["artifacts"] = resources.Artifacts
	}
	return status
}

func statusFromRun(run *models.AgentRun) models.AgentStatus {
	metadata := map[string]interface{}{
		"success": run.Success,
	}
	if run.ErrorMessage != "" {
		metadata["error"] = run.ErrorMessage
	}
	if len(run.Artifacts) > 0 {
		metadata["artifacts"] = run.Artifacts
	}
	if run.FinishedAt != nil {
		metadata["finished_at"] = run.FinishedAt
	}

	return models.AgentStatus{
		AgentID:     run.AgentID,
		SessionID:   run.SessionID,
		State:       run.State,
		CurrentStep: run.TotalSteps,
		Task:        run.Task,
		StartedAt:   run.StartedAt,
		LastUpdate:  run.UpdatedAt,
		Metadata:    metadata,
	}
}
