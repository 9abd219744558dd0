package worktree

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func sampleWorktree() *Worktree {
	return &Worktree{
		ID:             "wt-1",
		SessionID:      "job-1",
		TaskID:         "job-1",
		RepositoryID:   "agent-a",
		RepositoryPath: "/repos/agent-a",
		Path:           "/worktrees/job-1_abcd1234",
		Branch:         "feature/job-1-xyz",
		BaseBranch:     "main",
		Status:         StatusActive,
	}
}

// TestSQLiteStore_RoundTrip exercises every read path against a record
// written by CreateWorktree, with no companion task/repository table
// present — the store must not depend on joins against tables the fleet
// never creates.
func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wt := sampleWorktree()
	require.NoError(t, store.CreateWorktree(ctx, wt))

	byID, err := store.GetWorktreeByID(ctx, wt.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, wt.TaskID, byID.TaskID)
	assert.Equal(t, wt.RepositoryPath, byID.RepositoryPath)
	assert.Equal(t, wt.BaseBranch, byID.BaseBranch)

	bySession, err := store.GetWorktreeBySessionID(ctx, wt.SessionID)
	require.NoError(t, err)
	require.NotNil(t, bySession)
	assert.Equal(t, wt.ID, bySession.ID)

	byTask, err := store.GetWorktreeByTaskID(ctx, wt.TaskID)
	require.NoError(t, err)
	require.NotNil(t, byTask)
	assert.Equal(t, wt.ID, byTask.ID)

	allForTask, err := store.GetWorktreesByTaskID(ctx, wt.TaskID)
	require.NoError(t, err)
	assert.Len(t, allForTask, 1)

	allForRepo, err := store.GetWorktreesByRepositoryID(ctx, wt.RepositoryID)
	require.NoError(t, err)
	assert.Len(t, allForRepo, 1)

	active, err := store.ListActiveWorktrees(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSQLiteStore_GetWorktreeByID_NotFound(t *testing.T) {
	store := newTestStore(t)
	wt, err := store.GetWorktreeByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, wt)
}

func TestSQLiteStore_UpdateAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wt := sampleWorktree()
	require.NoError(t, store.CreateWorktree(ctx, wt))

	wt.Status = StatusMerged
	require.NoError(t, store.UpdateWorktree(ctx, wt))

	got, err := store.GetWorktreeByID(ctx, wt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, got.Status)

	require.NoError(t, store.DeleteWorktree(ctx, wt.ID))
	got, err = store.GetWorktreeByID(ctx, wt.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
