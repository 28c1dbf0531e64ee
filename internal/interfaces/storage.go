// -----------------------------------------------------------------------
// Run record persistence
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/agentstream/internal/models"
)

// RunStorage - interface for agent run record persistence
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.AgentRun) error
	GetRun(ctx context.Context, sessionID string) (*models.AgentRun, error) // models.ErrRunNotFound on miss
	ListRuns(ctx context.Context, limit int) ([]*models.AgentRun, error)   // Newest first; limit <= 0 = all
	DeleteRun(ctx context.Context, sessionID string) error                 // models.ErrRunNotFound on miss
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error)   // Terminal runs only
	Close() error
}
