package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v60/github"

	terrors "github.com/nfugallo/terna/internal/errors"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name string
	Path string
	Type string // "file" or "dir"
}

// Listing is the result of listing a directory. A directory that does not
// exist is Present == false rather than an error.
type Listing struct {
	Present bool
	Entries []Entry
}

// Dirs returns the subdirectory entries of l.
func (l Listing) Dirs() []Entry {
	var out []Entry
	for _, e := range l.Entries {
		if e.Type == "dir" {
			out = append(out, e)
		}
	}
	return out
}

// Contents reads a repository tree at a fixed ref.
type Contents struct {
	client *gh.Client
	owner  string
	repo   string
	ref    string
}

// NewContents creates a reader for owner/repo at ref. An empty ref reads
// the default branch.
func NewContents(client *gh.Client, owner, repo, ref string) *Contents {
	return &Contents{client: client, owner: owner, repo: repo, ref: ref}
}

func (c *Contents) opts() *gh.RepositoryContentGetOptions {
	return &gh.RepositoryContentGetOptions{Ref: c.ref}
}

// ListDir lists the directory at dirPath.
func (c *Contents) ListDir(ctx context.Context, dirPath string) (Listing, error) {
	file, dir, _, err := c.client.Repositories.GetContents(ctx, c.owner, c.repo, strings.Trim(dirPath, "/"), c.opts())
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return Listing{}, nil
		}
		return Listing{}, fmt.Errorf("listing %s: %w", dirPath, err)
	}
	if file != nil {
		return Listing{}, fmt.Errorf("listing %s: path is a file", dirPath)
	}

	l := Listing{Present: true, Entries: make([]Entry, 0, len(dir))}
	for _, item := range dir {
		l.Entries = append(l.Entries, Entry{Name: item.GetName(), Path: item.GetPath(), Type: item.GetType()})
	}
	return l, nil
}

// ReadFile returns the decoded content of the file at filePath. A missing
// file wraps ErrNotFound.
func (c *Contents) ReadFile(ctx context.Context, filePath string) (string, error) {
	file, _, _, err := c.client.Repositories.GetContents(ctx, c.owner, c.repo, strings.Trim(filePath, "/"), c.opts())
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return "", fmt.Errorf("reading %s: %w", filePath, terrors.ErrNotFound)
		}
		return "", fmt.Errorf("reading %s: %w", filePath, err)
	}
	if file == nil {
		return "", fmt.Errorf("reading %s: path is a directory", filePath)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", filePath, err)
	}
	return content, nil
}

func isStatus(err error, status int) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == status
}
