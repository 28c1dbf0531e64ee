package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/models"
)

// terminalStates are the states whose records the retention janitor may prune
var terminalStates = []interface{}{
	models.AgentStateStopped,
	models.AgentStateCompleted,
	models.AgentStateError,
}

// RunStorage implements the RunStorage interface for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RunStorage) SaveRun(ctx context.Context, run *models.AgentRun) error {
	if run.SessionID == "" {
		return fmt.Errorf("run session ID is required")
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(run.SessionID, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *RunStorage) GetRun(ctx context.Context, sessionID string) (*models.AgentRun, error) {
	var run models.AgentRun
	if err := s.db.Store().Get(sessionID, &run); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrRunNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.SessionID = sessionID
	return &run, nil
}

func (s *RunStorage) ListRuns(ctx context.Context, limit int) ([]*models.AgentRun, error) {
	query := badgerhold.Where("AgentID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.AgentRun
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.AgentRun, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

func (s *RunStorage) DeleteRun(ctx context.Context, sessionID string) error {
	if err := s.db.Store().Delete(sessionID, &models.AgentRun{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %s", models.ErrRunNotFound, sessionID)
		}
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// DeleteRunsBefore removes finished runs last updated before cutoff
func (s *RunStorage) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var runs []models.AgentRun
	query := badgerhold.Where("State").In(terminalStates...).And("UpdatedAt").Lt(cutoff)
	if err := s.db.Store().Find(&runs, query); err != nil {
		return 0, fmt.Errorf("failed to find expired runs: %w", err)
	}

	deleted := 0
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := s.db.Store().Delete(run.SessionID, &models.AgentRun{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			s.logger.Warn().Err(err).Str("session_id", run.SessionID).Msg("Failed to delete expired run")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Debug().Int("deleted", deleted).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Expired runs deleted")
		s.db.CompactValueLog()
	}
	return deleted, nil
}

func (s *RunStorage) Close() error {
	return s.db.Close()
}
