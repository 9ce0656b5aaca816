package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/mirror"
)

// AttemptSource finds issues and their attempt reports in the local mirror.
type AttemptSource interface {
	FindIssue(prefix string) (mirror.IssueRecord, bool, error)
	LatestAttempt(issueDir string) (mirror.Attempt, bool, error)
}

var _ AttemptSource = (*mirror.Store)(nil)

// Commenter posts a comment on a tracker issue.
type Commenter interface {
	CreateComment(ctx context.Context, issueID, body string) (string, error)
}

// PostResult describes what Post did. Skipped is set, with a reason, when
// there was nothing to post.
type PostResult struct {
	Issue      string `json:"issue"`
	Attempt    int    `json:"attempt,omitempty"`
	CommentID  string `json:"commentId,omitempty"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skipReason,omitempty"`
}

// AttemptPoster publishes the latest agent attempt report of an issue as a
// tracker comment.
type AttemptPoster struct {
	source    AttemptSource
	commenter Commenter
	logger    zerolog.Logger
}

// NewAttemptPoster creates an AttemptPoster.
func NewAttemptPoster(src AttemptSource, c Commenter, logger zerolog.Logger) *AttemptPoster {
	return &AttemptPoster{
		source:    src,
		commenter: c,
		logger:    logger.With().Str("component", "sync.attempts").Logger(),
	}
}

// Post finds the main issue whose folder starts with prefix and comments
// its highest-numbered attempt on the tracker issue named by the id in
// issue.md.
func (p *AttemptPoster) Post(ctx context.Context, prefix string) (*PostResult, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, terrors.Invalid("issue prefix is required")
	}

	issue, ok, err := p.source.FindIssue(prefix)
	if err != nil {
		return nil, fmt.Errorf("finding issue: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("issue with prefix %q: %w", prefix, terrors.ErrNotFound)
	}

	res := &PostResult{Issue: issue.FolderName}
	trackerID := issue.Document.ID
	if trackerID == "" || strings.Contains(trackerID, "REPLACE") {
		res.Skipped, res.SkipReason = true, "tracker id not set in "+mirror.IssueFile
		p.logger.Warn().Str("issue", issue.FolderName).Msg("skipping: tracker id not set")
		return res, nil
	}

	attempt, ok, err := p.source.LatestAttempt(issue.Path)
	if err != nil {
		return nil, fmt.Errorf("reading attempts: %w", err)
	}
	if !ok {
		res.Skipped, res.SkipReason = true, "no attempts found"
		p.logger.Info().Str("issue", issue.FolderName).Msg("no attempts to post")
		return res, nil
	}
	res.Attempt = attempt.Number

	id, err := p.commenter.CreateComment(ctx, trackerID, FormatAttempt(attempt, issue.FolderName))
	if err != nil {
		return nil, fmt.Errorf("posting comment: %w", err)
	}
	res.CommentID = id

	p.logger.Info().Str("issue", issue.FolderName).Int("attempt", attempt.Number).Str("comment", id).Msg("attempt posted")
	return res, nil
}

// FormatAttempt renders an attempt report as a markdown comment.
func FormatAttempt(a mirror.Attempt, task string) string {
	mark := "❌"
	if a.Document.Status == "success" {
		mark = "✅"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### %s Agent Attempt #%d Report (%s)\n\n", mark, a.Document.Attempt, a.Document.Agent)
	fmt.Fprintf(&b, "**Task:** `%s`\n", task)
	fmt.Fprintf(&b, "**Status:** `%s`\n", orNA(a.Document.Status))
	fmt.Fprintf(&b, "**Started:** `%s`\n", orNA(a.Document.Started))
	fmt.Fprintf(&b, "**Completed:** `%s`\n\n", orNA(a.Document.Completed))
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(a.Body))
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
