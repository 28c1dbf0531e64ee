package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/models"
)

func newTestRunStorage(t *testing.T) *RunStorage {
	t.Helper()

	store, err := badgerhold.Open(storeOptions(t.TempDir()))
	require.NoError(t, err)

	db := &BadgerDB{store: store, logger: arbor.NewNoOpLogger()}
	t.Cleanup(func() { _ = db.Close() })

	return NewRunStorage(db, arbor.NewLogger()).(*RunStorage)
}

func TestRunStorage_SaveAndGet(t *testing.T) {
	storage := newTestRunStorage(t)
	ctx := context.Background()

	success := true
	run := &models.AgentRun{
		SessionID: "session-1",
		AgentID:   "agent-1",
		Task:      "Open the login page",
		State:     models.AgentStateCompleted,
		Success:   true,
		History: &models.RunHistory{History: []models.HistoryItem{{
			StepNumber: 1,
			ModelOutput: &models.HistoryModelOutput{
				Action: []map[string]interface{}{
					{"click_element": map[string]interface{}{"index": 3}},
				},
			},
			Result: []models.ActionResult{{IsDone: true, Success: &success}},
			State:  models.HistoryState{URL: "https://example.com"},
		}}},
	}
	require.NoError(t, storage.SaveRun(ctx, run))
	assert.False(t, run.StartedAt.IsZero())
	assert.False(t, run.UpdatedAt.IsZero())

	got, err := storage.GetRun(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, models.AgentStateCompleted, got.State)
	require.NotNil(t, got.History)
	require.Len(t, got.History.History, 1)

	action := got.History.History[0].ModelOutput.Action[0]
	params, ok := action["click_element"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, params["index"])
}

func TestRunStorage_SaveRequiresSessionID(t *testing.T) {
	storage := newTestRunStorage(t)
	err := storage.SaveRun(context.Background(), &models.AgentRun{AgentID: "agent-1"})
	assert.Error(t, err)
}

func TestRunStorage_NotFound(t *testing.T) {
	storage := newTestRunStorage(t)
	ctx := context.Background()

	_, err := storage.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrRunNotFound)

	err = storage.DeleteRun(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrRunNotFound)
}

func TestRunStorage_ListNewestFirst(t *testing.T) {
	storage := newTestRunStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"oldest", "middle", "newest"} {
		require.NoError(t, storage.SaveRun(ctx, &models.AgentRun{
			SessionID: id,
			AgentID:   "agent-" + id,
			State:     models.AgentStateRunning,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := storage.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "newest", runs[0].SessionID)
	assert.Equal(t, "oldest", runs[2].SessionID)

	runs, err = storage.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newest", runs[0].SessionID)
	assert.Equal(t, "middle", runs[1].SessionID)
}

func TestRunStorage_DeleteRun(t *testing.T) {
	storage := newTestRunStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.SaveRun(ctx, &models.AgentRun{SessionID: "s1", AgentID: "a1"}))
	require.NoError(t, storage.DeleteRun(ctx, "s1"))

	_, err := storage.GetRun(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrRunNotFound)
}

func TestRunStorage_DeleteRunsBefore(t *testing.T) {
	storage := newTestRunStorage(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	runs := []*models.AgentRun{
		{SessionID: "old-completed", AgentID: "a1", State: models.AgentStateCompleted, UpdatedAt: old},
		{SessionID: "old-error", AgentID: "a2", State: models.AgentStateError, UpdatedAt: old},
		{SessionID: "old-running", AgentID: "a3", State: models.AgentStateRunning, UpdatedAt: old},
		{SessionID: "recent-stopped", AgentID: "a4", State: models.AgentStateStopped, UpdatedAt: recent},
	}
	for _, run := range runs {
		require.NoError(t, storage.SaveRun(ctx, run))
	}

	deleted, err := storage.DeleteRunsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := storage.ListRuns(ctx, 0)
	require.NoError(t, err)

	ids := make([]string, 0, len(remaining))
	for _, run := range remaining {
		ids = append(ids, run.SessionID)
	}
	assert.ElementsMatch(t, []string{"old-running", "recent-stopped"}, ids)
}

func TestNewBadgerDB_ResetOnStartup(t *testing.T) {
	logger := arbor.NewLogger()
	path := filepath.Join(t.TempDir(), "runs")
	ctx := context.Background()

	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: path})
	require.NoError(t, err)
	storage := NewRunStorage(db, logger)
	require.NoError(t, storage.SaveRun(ctx, &models.AgentRun{SessionID: "s1", AgentID: "a1"}))
	require.NoError(t, storage.Close())

	db, err = NewBadgerDB(logger, &common.BadgerConfig{Path: path, ResetOnStartup: true})
	require.NoError(t, err)
	storage = NewRunStorage(db, logger)
	defer storage.Close()

	_, err = storage.GetRun(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrRunNotFound)
}
