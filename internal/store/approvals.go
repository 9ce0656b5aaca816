package store

import (
	"context"
	"fmt"
	"time"
)

// ApprovalDecision records a human decision on a gated tool call.
type ApprovalDecision struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"runId"`
	InterruptionID string    `json:"interruptionId"`
	Agent          string    `json:"agent"`
	Tool           string    `json:"tool"`
	Arguments      string    `json:"arguments"`
	Approved       bool      `json:"approved"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SaveApproval appends a decision to the audit trail.
func (s *Store) SaveApproval(ctx context.Context, a *ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if a.Arguments == "" {
		a.Arguments = "{}"
	}

	query := `
	INSERT INTO approval_decisions (
		run_id, interruption_id, agent, tool, arguments, approved, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		a.RunID, a.InterruptionID, a.Agent, a.Tool, a.Arguments, a.Approved, a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save approval: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// ListApprovals returns the decisions of a run in the order they were made.
func (s *Store) ListApprovals(ctx context.Context, runID string) ([]*ApprovalDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, run_id, interruption_id, agent, tool, arguments, approved, created_at
	FROM approval_decisions WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []*ApprovalDecision
	for rows.Next() {
		a := &ApprovalDecision{}
		var created int64
		err := rows.Scan(&a.ID, &a.RunID, &a.InterruptionID, &a.Agent, &a.Tool, &a.Arguments, &a.Approved, &created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		a.CreatedAt = time.UnixMilli(created)
		out = append(out, a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return out, nil
}
