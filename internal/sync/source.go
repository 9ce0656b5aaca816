// Package sync moves planning data between a repository's terna/ tree, the
// tracker and the local mirror. Work is sequential and depth-first, and
// failures are isolated per project and per issue.
package sync

import (
	"context"
	"path"

	"github.com/nfugallo/terna/internal/github"
	"github.com/nfugallo/terna/internal/mirror"
)

// ProjectsRoot is the repository path that holds project folders.
const ProjectsRoot = "terna/" + mirror.ProjectsDir

// Source reads a repository tree. *github.Contents implements it.
type Source interface {
	ListDir(ctx context.Context, dir string) (github.Listing, error)
	ReadFile(ctx context.Context, file string) (string, error)
}

var _ Source = (*github.Contents)(nil)

// readDocument fetches file from src and decodes its front-matter into v.
func readDocument(ctx context.Context, src Source, file string, v any) (string, error) {
	content, err := src.ReadFile(ctx, file)
	if err != nil {
		return "", err
	}
	return mirror.ParseFrontMatter([]byte(content), v)
}

func join(parts ...string) string { return path.Join(parts...) }
