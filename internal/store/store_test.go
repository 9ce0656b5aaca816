package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfugallo/terna/pkg/tokenstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "terna.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_CreatesDB(t *testing.T) {
	store := newTestStore(t)

	tables := []string{"sync_runs", "approval_decisions", "tokens", "meta"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	var version string
	require.NoError(t, store.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version))
	assert.Equal(t, "2", version)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNew_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terna.db")
	ctx := context.Background()

	s1, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s1.SaveSyncRun(ctx, &SyncRun{ID: "r1", Action: "import", Owner: "o", Repo: "r", Branch: "main", Success: true}))
	require.NoError(t, s1.Close())

	s2, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	runs, err := s2.ListSyncRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].ID)
}

func TestSyncRuns_SaveAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, store.SaveSyncRun(ctx, &SyncRun{
		ID: "old", Action: "import", Owner: "acme", Repo: "plans", Branch: "main",
		Success: true, ProjectsCreated: 2, IssuesCreated: 5,
		StartedAt: base, FinishedAt: base.Add(time.Second),
	}))
	require.NoError(t, store.SaveSyncRun(ctx, &SyncRun{
		ID: "new", Action: "download", Owner: "acme", Repo: "plans", Branch: "dev",
		Success: false, Errors: []string{"terna/projects is not a directory"},
		StartedAt: base.Add(time.Minute), FinishedAt: base.Add(2 * time.Minute),
	}))

	runs, err := store.ListSyncRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "new", runs[0].ID)
	assert.False(t, runs[0].Success)
	assert.Equal(t, []string{"terna/projects is not a directory"}, runs[0].Errors)
	assert.Equal(t, "dev", runs[0].Branch)

	assert.Equal(t, "old", runs[1].ID)
	assert.True(t, runs[1].Success)
	assert.Equal(t, 2, runs[1].ProjectsCreated)
	assert.Equal(t, 5, runs[1].IssuesCreated)
	assert.Empty(t, runs[1].Errors)
	assert.Equal(t, base.UnixMilli(), runs[1].StartedAt.UnixMilli())

	limited, err := store.ListSyncRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestApprovals_SaveAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &ApprovalDecision{RunID: "run-1", InterruptionID: "t1", Agent: "Issue Planner", Tool: "commit_to_folder", Arguments: `{"allowedFolder":"src"}`, Approved: false}
	require.NoError(t, store.SaveApproval(ctx, first))
	assert.NotZero(t, first.ID)

	require.NoError(t, store.SaveApproval(ctx, &ApprovalDecision{RunID: "run-1", InterruptionID: "t2", Agent: "Project Planner", Tool: "create_project", Approved: true}))
	require.NoError(t, store.SaveApproval(ctx, &ApprovalDecision{RunID: "run-2", InterruptionID: "t9", Agent: "Issue Planner", Tool: "update_issue", Approved: true}))

	got, err := store.ListApprovals(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "commit_to_folder", got[0].Tool)
	assert.False(t, got[0].Approved)
	assert.Equal(t, `{"allowedFolder":"src"}`, got[0].Arguments)
	assert.Equal(t, "create_project", got[1].Tool)
	assert.True(t, got[1].Approved)
	assert.Equal(t, "{}", got[1].Arguments)

	none, err := store.ListApprovals(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTokenStore(t *testing.T) {
	store := newTestStore(t)
	tokens := store.Tokens()
	ctx := context.Background()

	key := tokenstore.SessionKey("sess-1")
	require.NoError(t, tokens.SetWithMetadata(ctx, key, "ghp_abc", time.Hour, map[string]string{"login": "octocat"}))

	tok, err := tokens.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ghp_abc", tok.Value)
	assert.Equal(t, "octocat", tok.Metadata["login"])
	assert.Equal(t, key, tok.Key)

	require.NoError(t, tokens.Set(ctx, key, "ghp_new", time.Hour))
	tok, err = tokens.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ghp_new", tok.Value)
	assert.Nil(t, tok.Metadata)

	_, err = tokens.Get(ctx, "nope")
	assert.ErrorIs(t, err, tokenstore.ErrTokenNotFound)

	require.NoError(t, tokens.Delete(ctx, key))
	_, err = tokens.Get(ctx, key)
	assert.ErrorIs(t, err, tokenstore.ErrTokenNotFound)
}

func TestTokenStore_Expiry(t *testing.T) {
	store := newTestStore(t)
	tokens := store.Tokens()
	ctx := context.Background()

	require.NoError(t, tokens.Set(ctx, "fresh", "a", time.Hour))
	require.NoError(t, tokens.Set(ctx, "stale", "b", -time.Minute))

	_, err := tokens.Get(ctx, "stale")
	assert.ErrorIs(t, err, tokenstore.ErrTokenExpired)

	n, err := tokens.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	removed, err := tokens.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = tokens.Get(ctx, "stale")
	assert.ErrorIs(t, err, tokenstore.ErrTokenNotFound)
}

func TestRunRetention(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()
	old := now.Add(-SyncRunRetention - time.Hour)

	require.NoError(t, store.SaveSyncRun(ctx, &SyncRun{ID: "old", Action: "import", StartedAt: old, FinishedAt: old}))
	require.NoError(t, store.SaveSyncRun(ctx, &SyncRun{ID: "recent", Action: "import"}))
	require.NoError(t, store.SaveApproval(ctx, &ApprovalDecision{RunID: "r", Tool: "create_project", CreatedAt: now.Add(-ApprovalRetention - time.Hour)}))
	require.NoError(t, store.SaveApproval(ctx, &ApprovalDecision{RunID: "r", Tool: "update_issue"}))
	require.NoError(t, store.Tokens().Set(ctx, "gone", "x", time.Minute))
	require.NoError(t, store.Tokens().Set(ctx, "kept", "y", time.Hour))

	now = now.Add(2 * time.Minute)
	res, err := store.RunRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, RetentionResult{SyncRuns: 1, Approvals: 1, Tokens: 1}, res)
	assert.Equal(t, int64(3), res.Total())

	runs, err := store.ListSyncRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "recent", runs[0].ID)

	approvals, err := store.ListApprovals(ctx, "r")
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, "update_issue", approvals[0].Tool)

	n, err := store.Tokens().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err = store.RunRetention(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Total())
}

func TestNew_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "terna.db")
	store, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, path, store.Path())
}

func TestSizeBytes(t *testing.T) {
	store := newTestStore(t)
	size, err := store.SizeBytes(context.Background())
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}
