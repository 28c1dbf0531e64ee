// Package retention prunes finished run records on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/interfaces"
)

// DefaultSchedule runs the janitor at the top of every hour
const DefaultSchedule = "0 0 * * * *"

// Scheduler deletes terminal runs older than MaxAge
type Scheduler struct {
	storage interfaces.RunStorage
	maxAge  time.Duration
	cron    *cron.Cron
	logger  arbor.ILogger
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a retention scheduler from the retention config section
func NewScheduler(storage interfaces.RunStorage, cfg common.RetentionConfig, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		storage: storage,
		maxAge:  common.ParseDuration(cfg.MaxAge, 7*24*time.Hour),
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
		now:     time.Now,
	}
}

// Start registers the prune job and starts the cron loop
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := s.cron.AddFunc(schedule, s.runPrune); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Dur("max_age", s.maxAge).
		Msg("Retention scheduler started")

	return nil
}

// Stop stops the cron loop and waits for a running prune to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Retention scheduler stopped")
}

// Prune deletes expired runs once and returns how many were removed
func (s *Scheduler) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cutoff := s.now().Add(-s.maxAge)
	deleted, err := s.storage.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("failed to prune runs: %w", err)
	}
	return deleted, nil
}

func (s *Scheduler) runPrune() {
	defer common.Recover(s.logger, "retention-prune")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	deleted, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled retention prune failed")
		return
	}

	s.logger.Info().
		Int("deleted", deleted).
		Dur("duration", time.Since(start)).
		Msg("Scheduled retention prune completed")
}
