package store

import (
	"context"
	"fmt"
	"time"
)

// Retention windows applied by RunRetention.
const (
	SyncRunRetention  = 30 * 24 * time.Hour
	ApprovalRetention = 90 * 24 * time.Hour
)

// RetentionResult counts the rows removed by one RunRetention pass.
type RetentionResult struct {
	SyncRuns  int64
	Approvals int64
	Tokens    int64
}

// Total is the number of rows removed.
func (r RetentionResult) Total() int64 { return r.SyncRuns + r.Approvals + r.Tokens }

// RunRetention deletes sync runs and approval decisions older than their
// retention window, and tokens that have expired.
func (s *Store) RunRetention(ctx context.Context) (RetentionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var res RetentionResult
	steps := []struct {
		what  string
		query string
		arg   int64
		n     *int64
	}{
		{"sync runs", `DELETE FROM sync_runs WHERE started_at < ?`, now.Add(-SyncRunRetention).UnixMilli(), &res.SyncRuns},
		{"approvals", `DELETE FROM approval_decisions WHERE created_at < ?`, now.Add(-ApprovalRetention).UnixMilli(), &res.Approvals},
		{"tokens", `DELETE FROM tokens WHERE expires_at <= ?`, now.UnixMilli(), &res.Tokens},
	}
	for _, step := range steps {
		r, err := s.db.ExecContext(ctx, step.query, step.arg)
		if err != nil {
			return res, fmt.Errorf("pruning %s: %w", step.what, err)
		}
		*step.n, _ = r.RowsAffected()
	}

	if res.Total() > 0 {
		s.logger.Info().
			Int64("sync_runs", res.SyncRuns).
			Int64("approvals", res.Approvals).
			Int64("tokens", res.Tokens).
			Msg("retention pruned rows")
	}
	return res, nil
}

// SizeBytes returns the size of the database file as SQLite reports it.
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
	).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("reading database size: %w", err)
	}
	return size, nil
}
