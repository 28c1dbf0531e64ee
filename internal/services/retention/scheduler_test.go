package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/models"
)

type mockRunStorage struct {
	mock.Mock
}

func (m *mockRunStorage) SaveRun(ctx context.Context, run *models.AgentRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockRunStorage) GetRun(ctx context.Context, sessionID string) (*models.AgentRun, error) {
	args := m.Called(ctx, sessionID)
	run, _ := args.Get(0).(*models.AgentRun)
	return run, args.Error(1)
}

func (m *mockRunStorage) ListRuns(ctx context.Context, limit int) ([]*models.AgentRun, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]*models.AgentRun)
	return runs, args.Error(1)
}

func (m *mockRunStorage) DeleteRun(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockRunStorage) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *mockRunStorage) Close() error {
	return m.Called().Error(0)
}

func TestScheduler_PruneUsesMaxAge(t *testing.T) {
	storage := new(mockRunStorage)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s := NewScheduler(storage, common.RetentionConfig{MaxAge: "24h"}, arbor.NewNoOpLogger())
	s.now = func() time.Time { return now }

	storage.On("DeleteRunsBefore", mock.Anything, now.Add(-24*time.Hour)).Return(4, nil).Once()

	deleted, err := s.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
	storage.AssertExpectations(t)
}

func TestScheduler_PruneDefaultMaxAge(t *testing.T) {
	storage := new(mockRunStorage)
	now := time.Now()

	s := NewScheduler(storage, common.RetentionConfig{}, arbor.NewNoOpLogger())
	s.now = func() time.Time { return now }

	storage.On("DeleteRunsBefore", mock.Anything, now.Add(-7*24*time.Hour)).Return(0, nil).Once()

	_, err := s.Prune(context.Background())
	require.NoError(t, err)
	storage.AssertExpectations(t)
}

func TestScheduler_PruneError(t *testing.T) {
	storage := new(mockRunStorage)
	s := NewScheduler(storage, common.RetentionConfig{MaxAge: "1h"}, arbor.NewNoOpLogger())

	storage.On("DeleteRunsBefore", mock.Anything, mock.Anything).Return(0, errors.New("disk full")).Once()

	_, err := s.Prune(context.Background())
	assert.ErrorContains(t, err, "disk full")
}

func TestScheduler_StartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(new(mockRunStorage), common.RetentionConfig{}, arbor.NewNoOpLogger())
	assert.Error(t, s.Start("not a schedule"))
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	storage := new(mockRunStorage)
	fired := make(chan struct{}, 4)
	storage.On("DeleteRunsBefore", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case fired <- struct{}{}:
			default:
			}
		}).
		Return(0, nil)

	s := NewScheduler(storage, common.RetentionConfig{MaxAge: "1h"}, arbor.NewNoOpLogger())
	require.NoError(t, s.Start("* * * * * *"))
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("prune did not run on schedule")
	}
}
