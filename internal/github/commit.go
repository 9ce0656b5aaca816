package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	terrors "github.com/nfugallo/terna/internal/errors"
)

const (
	defaultBaseBranch = "main"
	defaultPRTitle    = "AI: add generated code"
	branchPrefix      = "ai/generated-"
)

// FileChange is one file to create or replace.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CommitRequest is a batch of writes confined to AllowedFolder.
type CommitRequest struct {
	Owner         string       `json:"owner"`
	Repo          string       `json:"repo"`
	BaseBranch    string       `json:"baseBranch"`
	AllowedFolder string       `json:"allowedFolder"`
	Files         []FileChange `json:"files"`
	Title         string       `json:"prTitle"`
	Description   string       `json:"prDescription,omitempty"`
}

// Validate checks required fields and that every path stays inside the
// allowed folder. The first offending path fails the whole batch.
func (r CommitRequest) Validate() error {
	if r.Owner == "" || r.Repo == "" {
		return terrors.Invalid("owner and repo are required")
	}
	folder := strings.Trim(r.AllowedFolder, "/")
	if folder == "" {
		return terrors.Invalid("allowedFolder is required")
	}
	if len(r.Files) == 0 {
		return terrors.Invalid("at least one file is required")
	}
	prefix := folder + "/"
	for _, f := range r.Files {
		if !strings.HasPrefix(f.Path, prefix) || !strings.HasPrefix(path.Clean(f.Path), prefix) {
			return fmt.Errorf("%w: file %q is outside allowed folder %q; all files must be within the allowed folder",
				terrors.ErrSecurityViolation, f.Path, prefix)
		}
	}
	return nil
}

func (r CommitRequest) withDefaults() CommitRequest {
	if r.BaseBranch == "" {
		r.BaseBranch = defaultBaseBranch
	}
	if r.Title == "" {
		r.Title = defaultPRTitle
	}
	r.AllowedFolder = strings.Trim(r.AllowedFolder, "/")
	return r
}

// CommitResult describes the opened pull request.
type CommitResult struct {
	PRURL        string `json:"prUrl"`
	PRNumber     int    `json:"prNumber"`
	Branch       string `json:"branch"`
	FilesWritten int    `json:"filesModified"`
}

// ClientSource resolves the GitHub client for the caller in ctx.
type ClientSource interface {
	ClientFor(ctx context.Context) (*gh.Client, error)
}

// FolderCommitter publishes a validated batch as branch, commit and pull
// request. It never writes to the base branch.
type FolderCommitter struct {
	clients ClientSource
	now     func() time.Time
	logger  zerolog.Logger
}

// NewFolderCommitter creates a committer.
func NewFolderCommitter(clients ClientSource, logger zerolog.Logger) *FolderCommitter {
	return &FolderCommitter{
		clients: clients,
		now:     time.Now,
		logger:  logger.With().Str("component", "github.commit").Logger(),
	}
}

// SetClock overrides the clock used for branch names.
func (f *FolderCommitter) SetClock(now func() time.Time) { f.now = now }

// Commit validates req, then creates a branch from the base branch, one blob
// per file, a tree on top of the base tree, a commit, and a pull request.
func (f *FolderCommitter) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	req = req.withDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	client, err := f.clients.ClientFor(ctx)
	if err != nil {
		return nil, err
	}

	log := f.logger.With().Str("repo", req.Owner+"/"+req.Repo).Logger()
	branch := fmt.Sprintf("%s%d", branchPrefix, f.now().UnixMilli())

	baseRef, _, err := client.Git.GetRef(ctx, req.Owner, req.Repo, "refs/heads/"+req.BaseBranch)
	if err != nil {
		return nil, mapCommitError(req, err)
	}
	baseSHA := baseRef.GetObject().GetSHA()

	if _, _, err := client.Git.CreateRef(ctx, req.Owner, req.Repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.String(baseSHA)},
	}); err != nil {
		return nil, mapCommitError(req, err)
	}

	baseCommit, _, err := client.Git.GetCommit(ctx, req.Owner, req.Repo, baseSHA)
	if err != nil {
		return nil, mapCommitError(req, err)
	}

	entries := make([]*gh.TreeEntry, 0, len(req.Files))
	for _, file := range req.Files {
		blob, _, err := client.Git.CreateBlob(ctx, req.Owner, req.Repo, &gh.Blob{
			Content:  gh.String(file.Content),
			Encoding: gh.String("utf-8"),
		})
		if err != nil {
			return nil, mapCommitError(req, err)
		}
		entries = append(entries, &gh.TreeEntry{
			Path: gh.String(file.Path),
			Mode: gh.String("100644"),
			Type: gh.String("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, _, err := client.Git.CreateTree(ctx, req.Owner, req.Repo, baseCommit.GetTree().GetSHA(), entries)
	if err != nil {
		return nil, mapCommitError(req, err)
	}

	commit, _, err := client.Git.CreateCommit(ctx, req.Owner, req.Repo, &gh.Commit{
		Message: gh.String(req.Title),
		Tree:    tree,
		Parents: []*gh.Commit{{SHA: gh.String(baseSHA)}},
	}, nil)
	if err != nil {
		return nil, mapCommitError(req, err)
	}

	if _, _, err := client.Git.UpdateRef(ctx, req.Owner, req.Repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: commit.SHA},
	}, false); err != nil {
		return nil, mapCommitError(req, err)
	}

	pr, _, err := client.PullRequests.Create(ctx, req.Owner, req.Repo, &gh.NewPullRequest{
		Title: gh.String(req.Title),
		Head:  gh.String(branch),
		Base:  gh.String(req.BaseBranch),
		Body:  gh.String(pullRequestBody(req)),
	})
	if err != nil {
		return nil, mapCommitError(req, err)
	}

	log.Info().Str("branch", branch).Int("pr", pr.GetNumber()).Int("files", len(req.Files)).Msg("pull request opened")
	return &CommitResult{
		PRURL:        pr.GetHTMLURL(),
		PRNumber:     pr.GetNumber(),
		Branch:       branch,
		FilesWritten: len(req.Files),
	}, nil
}

func pullRequestBody(req CommitRequest) string {
	if req.Description != "" {
		return req.Description
	}
	var b strings.Builder
	b.WriteString("This pull request was generated automatically by a planning agent.\n\n")
	b.WriteString("**Files modified:**\n")
	for _, f := range req.Files {
		fmt.Fprintf(&b, "- %s\n", f.Path)
	}
	fmt.Fprintf(&b, "\nAll changes are restricted to the `%s/` folder.", req.AllowedFolder)
	return b.String()
}

func mapCommitError(req CommitRequest, err error) error {
	repo := req.Owner + "/" + req.Repo
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		status := ghErr.Response.StatusCode
		apiErr := &terrors.APIError{Service: "github", StatusCode: status}
		switch status {
		case http.StatusNotFound:
			apiErr.Message = fmt.Sprintf("repository %q not found or you don't have access; make sure it exists and your token has the necessary permissions", repo)
			apiErr.Err = terrors.ErrNotFound
			return apiErr
		case http.StatusForbidden:
			apiErr.Message = fmt.Sprintf("permission denied; make sure your token has the 'repo' scope and write access to %q", repo)
			apiErr.Err = terrors.ErrUnauthorized
			return apiErr
		case http.StatusUnprocessableEntity:
			apiErr.Message = fmt.Sprintf("invalid request: %s; this can be caused by branch protection rules or invalid file paths", ghErr.Message)
			return apiErr
		}
	}
	return fmt.Errorf("GitHub API error: %w", err)
}
