package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SyncRun is one recorded import or download.
type SyncRun struct {
	ID               string    `json:"id"`
	Action           string    `json:"action"`
	Owner            string    `json:"owner"`
	Repo             string    `json:"repo"`
	Branch           string    `json:"branch"`
	Success          bool      `json:"success"`
	ProjectsCreated  int       `json:"projectsCreated"`
	ProjectsExisting int       `json:"projectsExisting"`
	IssuesCreated    int       `json:"issuesCreated"`
	IssuesExisting   int       `json:"issuesExisting"`
	Errors           []string  `json:"errors"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
}

// SaveSyncRun inserts or replaces a sync run.
func (s *Store) SaveSyncRun(ctx context.Context, r *SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = s.now()
	}
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to encode sync errors: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO sync_runs (
		id, action, owner, repo, branch, success,
		projects_created, projects_existing, issues_created, issues_existing,
		errors, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.Action, r.Owner, r.Repo, r.Branch, r.Success,
		r.ProjectsCreated, r.ProjectsExisting, r.IssuesCreated, r.IssuesExisting,
		string(errJSON), r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent runs, newest first.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
	SELECT id, action, owner, repo, branch, success,
	       projects_created, projects_existing, issues_created, issues_existing,
	       errors, started_at, finished_at
	FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		r := &SyncRun{}
		var errJSON string
		var started, finished int64
		err := rows.Scan(
			&r.ID, &r.Action, &r.Owner, &r.Repo, &r.Branch, &r.Success,
			&r.ProjectsCreated, &r.ProjectsExisting, &r.IssuesCreated, &r.IssuesExisting,
			&errJSON, &started, &finished,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		if err := json.Unmarshal([]byte(errJSON), &r.Errors); err != nil {
			s.logger.Warn().Err(err).Str("run_id", r.ID).Msg("sync run has malformed errors column")
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}
