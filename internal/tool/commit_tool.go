package tool

import (
	"context"
	"fmt"

	"github.com/nfugallo/terna/internal/github"
)

// Committer opens a pull request from a folder-restricted batch of writes.
// *github.FolderCommitter implements it.
type Committer interface {
	Commit(ctx context.Context, req github.CommitRequest) (*github.CommitResult, error)
}

var _ Committer = (*github.FolderCommitter)(nil)

type commitResult struct {
	Success       bool   `json:"success"`
	PRURL         string `json:"prUrl"`
	PRNumber      int    `json:"prNumber"`
	Branch        string `json:"branch"`
	FilesModified int    `json:"filesModified"`
	Message       string `json:"message"`
}

// CommitToFolder returns the commit tool. Every call needs approval,
// whatever its arguments.
func CommitToFolder(c Committer) Tool {
	return newTool("commit_to_folder",
		"Write files to a GitHub repository by opening a pull request. Every file path must be inside allowedFolder. Never writes to the base branch directly.",
		object(map[string]any{
			"owner":         str("Repository owner"),
			"repo":          str("Repository name"),
			"baseBranch":    str("Branch to open the pull request against (default: main)"),
			"allowedFolder": str("Folder every file must be inside, e.g. services/billing"),
			"files": array(object(map[string]any{
				"path":    str("File path relative to the repository root, inside allowedFolder"),
				"content": str("Full file content"),
			}, "path", "content"), "Files to create or replace"),
			"prTitle":       str("Pull request title"),
			"prDescription": str("Pull request description"),
		}, "owner", "repo", "allowedFolder", "files"),
		always[github.CommitRequest],
		func(ctx context.Context, req github.CommitRequest) (any, error) {
			res, err := c.Commit(ctx, req)
			if err != nil {
				return nil, err
			}
			return commitResult{
				Success:       true,
				PRURL:         res.PRURL,
				PRNumber:      res.PRNumber,
				Branch:        res.Branch,
				FilesModified: res.FilesWritten,
				Message:       fmt.Sprintf("Created pull request #%d with %d file(s): %s", res.PRNumber, res.FilesWritten, res.PRURL),
			}, nil
		})
}
