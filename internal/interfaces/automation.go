package interfaces

import (
	"context"
	"io"

	"github.com/ternarybob/agentstream/internal/models"
)

// StepHook is invoked after every automation step
type StepHook func(state models.BrowserState, output models.ModelOutput, stepNumber int)

// DoneHook is invoked once with the final history when a run returns normally
type DoneHook func(history *models.RunHistory)

// AskHumanHook blocks until an operator answers the question or ctx is done
type AskHumanHook func(ctx context.Context, question string) (string, error)

// RunOptions configures one automation run
type RunOptions struct {
	SessionID  string
	AgentID    string
	Task       string
	MaxSteps   int
	DebugPort  int
	Headless   bool
	ProfileDir string

	// LogWriter receives the engine's free-text diagnostic lines
	LogWriter io.Writer

	OnStep   StepHook
	OnDone   DoneHook
	AskHuman AskHumanHook
}

// AutomationEngine creates runs. It is the black-box browser automation collaborator.
type AutomationEngine interface {
	NewRun(opts RunOptions) (AutomationRun, error)
}

// AutomationRun is the handle of one run. Pause, Resume, Stop and AddTask are
// cooperative: they must return immediately, and the run observes them at its
// next safe point between steps.
type AutomationRun interface {
	// Run executes the task until done, max steps, Stop, or ctx cancellation.
	// A stopped run returns context.Canceled.
	Run(ctx context.Context) (*models.RunHistory, error)
	Pause()
	Resume()
	Stop()

	// AddTask hands the run a new instruction to consume when it next plans
	AddTask(instruction string)
}

// PortAllocator hands out free local ports for browser debugging endpoints
type PortAllocator interface {
	Allocate() (int, error)
}

// ArtifactStore persists the files derived from a finished run
type ArtifactStore interface {
	// SaveRunArtifacts writes the run's history files and returns the path of the
	// interacted-elements file announced to observers
	SaveRunArtifacts(sessionID string, history *models.RunHistory) (string, error)
}
