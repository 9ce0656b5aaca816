// Package mirror maintains the on-disk projection of tracker projects and
// issues. The layout is:
//
//	projects/<slug>/project.md
//	projects/<slug>/issues/<id-slug>/issue.md
//	projects/<slug>/issues/<id-slug>/sub-issues/<id-slug>/issue.md
//
// Writes are full replacements. Reads skip and log entries that cannot be
// parsed so that one bad record never hides the rest of the tree.
package mirror

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nfugallo/terna/internal/models"
)

// Directory and file names of the mirror layout.
const (
	ProjectsDir  = "projects"
	IssuesDir    = "issues"
	SubIssuesDir = "sub-issues"
	AttemptsDir  = "attempts"
	ProjectFile  = "project.md"
	IssueFile    = "issue.md"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ErrOutsideRoot is returned when a write would land outside the mirror.
var ErrOutsideRoot = errors.New("mirror: path outside mirror root")

// Slugify lowercases name, collapses every run of non-alphanumeric
// characters into a single hyphen and trims hyphens at both ends.
// Slugify(Slugify(x)) == Slugify(x).
func Slugify(name string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// IssueFolderName is the directory name of an issue: the slug of its
// identifier followed by the slug of its title.
func IssueFolderName(identifier, title string) string {
	id, slug := Slugify(identifier), Slugify(title)
	if slug == "" {
		return id
	}
	if id == "" {
		return slug
	}
	return id + "-" + slug
}

// within reports whether target is base or lies below it.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ProjectRecord is a project read back from the mirror.
type ProjectRecord struct {
	Slug     string
	Path     string
	Document ProjectDocument
	Body     string
}

// IssueRecord is an issue read back from the mirror. Parent is the
// identifier of the enclosing issue directory, or empty for main issues;
// it reflects the position on disk, not the stored front-matter.
type IssueRecord struct {
	FolderName string
	Path       string
	Parent     string
	Depth      int
	Document   IssueDocument
	Body       string
}

// Subtree is the listing of a directory that may legitimately be absent.
// Present is false when the directory does not exist; any other I/O
// failure is reported as an error by the function that produced it.
type Subtree struct {
	Present bool
	Dirs    []string
}

// Store reads and writes the mirror tree rooted at a directory.
type Store struct {
	root   string
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a Store rooted at root (the directory containing projects/).
func New(root string, logger zerolog.Logger) *Store {
	return &Store{
		root:   root,
		now:    time.Now,
		logger: logger.With().Str("component", "mirror").Logger(),
	}
}

// SetClock overrides the clock used for the created date.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Root returns the mirror root directory.
func (s *Store) Root() string { return s.root }

// ProjectDir returns the directory of the project with the given slug.
func (s *Store) ProjectDir(slug string) string {
	return filepath.Join(s.root, ProjectsDir, slug)
}

// ProjectExists reports whether a directory exists for name's slug. Content
// is not compared, so a renamed project gets a second directory.
func (s *Store) ProjectExists(name string) bool {
	info, err := os.Stat(s.ProjectDir(Slugify(name)))
	return err == nil && info.IsDir()
}

// WriteProject (re)writes project.md for p and ensures its issues/ directory
// exists. It returns the project directory.
func (s *Store) WriteProject(p models.Project, milestones []models.Milestone) (string, error) {
	slug := Slugify(p.Name)
	if slug == "" {
		return "", fmt.Errorf("mirror: project %q has an empty slug", p.Name)
	}
	dir := s.ProjectDir(slug)
	if err := os.MkdirAll(filepath.Join(dir, IssuesDir), 0o755); err != nil {
		return "", fmt.Errorf("creating project dir: %w", err)
	}

	doc := newProjectDocument(p, milestones, s.now())
	data, err := RenderFrontMatter(doc, renderProjectBody(p, milestones))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, ProjectFile), data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", ProjectFile, err)
	}

	s.logger.Debug().Str("project", p.Name).Str("dir", dir).Int("milestones", len(milestones)).Msg("project mirrored")
	return dir, nil
}

// WriteIssue (re)writes issue.md for i under the given project. parentPath is
// empty for a main issue, or the value WriteIssue returned for the parent,
// in which case the issue is placed in the parent's sub-issues/ directory.
// Only main issues get sub-issues/ and attempts/ directories.
//
// The returned path is relative to the project's issues/ directory; for a
// main issue it is just the folder name.
func (s *Store) WriteIssue(i models.Issue, projectSlug, parentPath string) (string, error) {
	if Slugify(i.Identifier) == "" {
		return "", fmt.Errorf("mirror: issue %q has no identifier", i.Title)
	}
	if projectSlug == "" || Slugify(projectSlug) != projectSlug {
		return "", fmt.Errorf("project slug %q: %w", projectSlug, ErrOutsideRoot)
	}
	folder := IssueFolderName(i.Identifier, i.Title)

	rel := folder
	if parentPath != "" {
		rel = filepath.Join(parentPath, SubIssuesDir, folder)
	}
	issuesDir := filepath.Join(s.ProjectDir(projectSlug), IssuesDir)
	dir := filepath.Join(issuesDir, rel)
	if !within(issuesDir, dir) || dir == issuesDir {
		return "", fmt.Errorf("issue %s: %w", i.Identifier, ErrOutsideRoot)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating issue dir: %w", err)
	}
	if parentPath == "" {
		for _, sub := range []string{SubIssuesDir, AttemptsDir} {
			if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
				return "", fmt.Errorf("creating %s: %w", sub, err)
			}
		}
	}

	parentFolder := ""
	if parentPath != "" {
		parentFolder = filepath.Base(parentPath)
	}
	doc := newIssueDocument(i, parentFolder)
	data, err := RenderFrontMatter(doc, renderIssueBody(i))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, IssueFile), data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", IssueFile, err)
	}

	s.logger.Debug().Str("issue", i.Identifier).Str("dir", dir).Msg("issue mirrored")
	return rel, nil
}

// ReadAllProjects reads project.md from every project directory. Directories
// without a readable project.md are logged and skipped.
func (s *Store) ReadAllProjects() ([]ProjectRecord, error) {
	sub, err := readSubtree(filepath.Join(s.root, ProjectsDir))
	if err != nil {
		return nil, err
	}

	var out []ProjectRecord
	for _, slug := range sub.Dirs {
		dir := s.ProjectDir(slug)
		var doc ProjectDocument
		body, err := readDocument(filepath.Join(dir, ProjectFile), &doc)
		if err != nil {
			s.logger.Warn().Err(err).Str("project", slug).Msg("skipping unreadable project")
			continue
		}
		out = append(out, ProjectRecord{Slug: slug, Path: dir, Document: doc, Body: body})
	}
	return out, nil
}

// ReadAllIssues walks issues/ of a project depth-first, including every
// nested sub-issues/ directory. A project without issues/ yields no records.
func (s *Store) ReadAllIssues(projectSlug string) ([]IssueRecord, error) {
	var out []IssueRecord
	if err := s.walkIssues(filepath.Join(s.ProjectDir(projectSlug), IssuesDir), "", 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) walkIssues(dir, parent string, depth int, out *[]IssueRecord) error {
	sub, err := readSubtree(dir)
	if err != nil {
		return err
	}
	if !sub.Present {
		return nil
	}

	for _, name := range sub.Dirs {
		issueDir := filepath.Join(dir, name)
		var doc IssueDocument
		body, err := readDocument(filepath.Join(issueDir, IssueFile), &doc)
		if err != nil {
			s.logger.Warn().Err(err).Str("dir", issueDir).Msg("skipping unreadable issue")
			continue
		}

		*out = append(*out, IssueRecord{
			FolderName: name,
			Path:       issueDir,
			Parent:     parent,
			Depth:      depth,
			Document:   doc,
			Body:       body,
		})

		if err := s.walkIssues(filepath.Join(issueDir, SubIssuesDir), doc.Identifier, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// readSubtree lists the child directories of dir in name order.
func readSubtree(dir string) (Subtree, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Subtree{}, nil
	}
	if err != nil {
		return Subtree{}, fmt.Errorf("listing %s: %w", dir, err)
	}

	sub := Subtree{Present: true}
	for _, e := range entries {
		if e.IsDir() {
			sub.Dirs = append(sub.Dirs, e.Name())
		}
	}
	sort.Strings(sub.Dirs)
	return sub, nil
}

func readDocument(path string, v any) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	body, err := ParseFrontMatter(data, v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return body, nil
}
