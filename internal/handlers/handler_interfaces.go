package handlers

import (
	"context"

	"github.com/ternarybob/agentstream/internal/models"
	"github.com/ternarybob/agentstream/internal/services/agents"
	"github.com/ternarybob/agentstream/internal/services/testcases"
)

// AgentManager is the session manager surface used by the HTTP layer
type AgentManager interface {
	Start(ctx context.Context, req agents.StartRequest) (agents.StartResult, error)
	Control(sessionID string, action models.ControlAction, task string) agents.ControlResult
	Status(ctx context.Context, sessionID string) (models.AgentStatus, error)
	List() []models.AgentStatus
	History(ctx context.Context, limit int) ([]*models.AgentRun, error)
	Delete(ctx context.Context, sessionID string) error
	CaptureSelectors(sessionID string, selectors []string) (int, error)
	Answer(sessionID, questionID, response string) error
}

// DetailsGenerator turns a run history and a test case into the detailed write-up
type DetailsGenerator interface {
	Generate(ctx context.Context, req testcases.DetailsRequest) (*models.TestCaseDetails, error)
}
