package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/github"
	"github.com/nfugallo/terna/internal/mirror"
	"github.com/nfugallo/terna/internal/models"
	"github.com/nfugallo/terna/internal/tracker"
)

// memSource serves a repository tree from a map of file path to content.
type memSource struct {
	files   map[string]string
	listErr map[string]error
}

func (m *memSource) ListDir(_ context.Context, dir string) (github.Listing, error) {
	if err := m.listErr[dir]; err != nil {
		return github.Listing{}, err
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"
	seen := map[string]github.Entry{}
	for p := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, nested := strings.Cut(rest, "/")
		typ := "file"
		if nested {
			typ = "dir"
		}
		seen[name] = github.Entry{Name: name, Path: prefix + name, Type: typ}
	}
	if len(seen) == 0 {
		return github.Listing{}, nil
	}
	l := github.Listing{Present: true}
	for _, e := range seen {
		l.Entries = append(l.Entries, e)
	}
	sort.Slice(l.Entries, func(i, j int) bool { return l.Entries[i].Name < l.Entries[j].Name })
	return l, nil
}

func (m *memSource) ReadFile(_ context.Context, file string) (string, error) {
	content, ok := m.files[file]
	if !ok {
		return "", fmt.Errorf("%s: %w", file, terrors.ErrNotFound)
	}
	return content, nil
}

func projectMD(name string) string {
	return fmt.Sprintf(`---
id: ""
name: %s
status: planned
description: Short summary
content: ""
milestones:
  - name: Alpha
    description: Core flow works
    completed: false
---

Long form body for %s.
`, name, name)
}

func issueMD(identifier, title, priority string, labels ...string) string {
	return fmt.Sprintf(`---
identifier: %s
title: %s
status: todo
priority: %s
labels: [%s]
---

Body of %s.
`, identifier, title, priority, strings.Join(labels, ", "), title)
}

// fakeTracker records what the importer asked for.
type fakeTracker struct {
	existingProjects map[string]models.Project
	existingIssues   map[string]bool
	searchHits       map[string][]models.Issue
	failProjects     map[string]bool
	noTeam           bool

	createdProjects []tracker.ProjectSpec
	createdIssues   []tracker.IssueCreateInput
	stateCalls      int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		existingProjects: map[string]models.Project{},
		existingIssues:   map[string]bool{},
		failProjects:     map[string]bool{},
	}
}

func (f *fakeTracker) FindProjectsByName(_ context.Context, name string) ([]models.Project, error) {
	if p, ok := f.existingProjects[name]; ok {
		return []models.Project{p}, nil
	}
	return nil, nil
}

func (f *fakeTracker) CreateProject(_ context.Context, spec tracker.ProjectSpec) (*models.Project, []models.Milestone, error) {
	if f.failProjects[spec.Name] {
		return nil, nil, errors.New("backend exploded")
	}
	f.createdProjects = append(f.createdProjects, spec)
	p := &models.Project{ID: "proj-" + mirror.Slugify(spec.Name), Name: spec.Name}
	if !f.noTeam {
		p.Teams = []models.Team{{ID: "team-1", Key: "ENG", Name: "Engineering"}}
	}
	return p, nil, nil
}

func (f *fakeTracker) SearchIssues(_ context.Context, query, _ string) ([]models.Issue, error) {
	if hits, ok := f.searchHits[query]; ok {
		return hits, nil
	}
	if f.existingIssues[query] {
		return []models.Issue{{Identifier: query}}, nil
	}
	return nil, nil
}

func (f *fakeTracker) WorkflowStates(context.Context, string) ([]models.WorkflowState, error) {
	f.stateCalls++
	return []models.WorkflowState{{ID: "state-todo", Name: "Todo"}, {ID: "state-progress", Name: "In Progress"}}, nil
}

func (f *fakeTracker) Labels(context.Context, string) ([]models.Label, error) {
	return []models.Label{{ID: "label-backend", Name: "backend"}, {ID: "label-docs", Name: "docs"}}, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, in tracker.IssueCreateInput) (*models.Issue, error) {
	f.createdIssues = append(f.createdIssues, in)
	n := len(f.createdIssues)
	return &models.Issue{ID: fmt.Sprintf("issue-%d", n), Identifier: fmt.Sprintf("ENG-%d", 100+n), Title: in.Title}, nil
}

func TestImport_ProjectFailureIsIsolated(t *testing.T) {
	src := &memSource{files: map[string]string{
		"terna/projects/alpha/project.md": projectMD("Alpha"),
		"terna/projects/beta/project.md":  projectMD("Beta"),
		"terna/projects/gamma/project.md": projectMD("Gamma"),
	}}
	ft := newFakeTracker()
	ft.failProjects["Beta"] = true

	res, err := NewImporter(ft, zerolog.Nop()).Import(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 2, res.ProjectsCreated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "beta")
	assert.Contains(t, res.Errors[0], "backend exploded")

	require.Len(t, ft.createdProjects, 2)
	assert.Equal(t, "Alpha", ft.createdProjects[0].Name)
	assert.Equal(t, "Gamma", ft.createdProjects[1].Name)
}

func TestImport_ProjectSpecFromDocument(t *testing.T) {
	src := &memSource{files: map[string]string{
		"terna/projects/alpha/project.md": projectMD("Alpha"),
	}}
	ft := newFakeTracker()

	_, err := NewImporter(ft, zerolog.Nop()).Import(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, ft.createdProjects, 1)
	spec := ft.createdProjects[0]
	assert.Equal(t, "Short summary", spec.Description)
	assert.Equal(t, "Long form body for Alpha.", spec.Content)
	require.Len(t, spec.Milestones, 1)
	assert.Equal(t, tracker.MilestoneSpec{Name: "Alpha", DefinitionOfDone: "Core flow works"}, spec.Milestones[0])
}

func TestImport_ExistingProjectCounted(t *testing.T) {
	src := &memSource{files: map[string]string{
		"terna/projects/alpha/project.md": projectMD("Alpha"),
	}}
	ft := newFakeTracker()
	ft.existingProjects["Alpha"] = models.Project{ID: "p1", Name: "Alpha", Teams: []models.Team{{ID: "team-1"}}}

	res, err := NewImporter(ft, zerolog.Nop()).Import(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ProjectsCreated)
	assert.Equal(t, 1, res.ProjectsExisting)
	assert.Empty(t, ft.createdProjects)
	assert.Empty(t, res.Errors)
}

func TestImport_IssuesAndSubIssues(t *testing.T) {
	base := "terna/projects/billing/issues/"
	src := &memSource{files: map[string]string{
		"terna/projects/billing/project.md":                          projectMD("Billing"),
		base + "eng-1-invoices/issue.md":                             issueMD("ENG-1", "Invoices", "high", "backend"),
		base + "eng-1-invoices/sub-issues/eng-2-pdf-export/issue.md": issueMD("ENG-2", "PDF export", "low", "docs", "missing"),
		base + "eng-3-refunds/issue.md":                              issueMD("ENG-3", "Refunds", "none"),
		base + "eng-3-refunds/sub-issues/eng-4-ledger/issue.md":      issueMD("ENG-4", "Ledger", "urgent"),
	}}
	ft := newFakeTracker()
	ft.existingIssues["ENG-3"] = true

	res, err := NewImporter(ft, zerolog.Nop()).Import(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.IssuesCreated)
	assert.Equal(t, 1, res.IssuesExisting)
	assert.Equal(t, 1, ft.stateCalls)

	require.Len(t, ft.createdIssues, 2)
	parent, child := ft.createdIssues[0], ft.createdIssues[1]

	assert.Equal(t, "Invoices", parent.Title)
	assert.Equal(t, "team-1", parent.TeamID)
	assert.Equal(t, "proj-billing", parent.ProjectID)
	assert.Empty(t, parent.ParentID)
	assert.Equal(t, "state-todo", parent.StateID)
	assert.Equal(t, []string{"label-backend"}, parent.LabelIDs)
	require.NotNil(t, parent.Priority)
	assert.Equal(t, int(models.PriorityHigh), *parent.Priority)
	assert.Equal(t, "Body of Invoices.", parent.Description)

	assert.Equal(t, "PDF export", child.Title)
	assert.Equal(t, "issue-1", child.ParentID)
	assert.Equal(t, []string{"label-docs"}, child.LabelIDs)
	assert.Equal(t, int(models.PriorityLow), *child.Priority)
}

func TestImport_OtherTeamIdentifierIsNotExisting(t *testing.T) {
	base := "terna/projects/billing/issues/"
	src := &memSource{files: map[string]string{
		"terna/projects/billing/project.md":                          projectMD("Billing"),
		base + "sim-3-invoices/issue.md":                             issueMD("SIM-3", "Invoices", "high"),
		base + "sim-3-invoices/sub-issues/sim-4-pdf-export/issue.md": issueMD("SIM-4", "PDF export", "low"),
	}}
	ft := newFakeTracker()
	ft.searchHits = map[string][]models.Issue{
		"SIM-3": {{Identifier: "ENG-3", Title: "Unrelated"}, {Identifier: "ENG-9", Title: "Follow up on SIM-3"}},
	}

	res, err := NewImporter(ft, zerolog.Nop()).Import(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.IssuesCreated)
	assert.Equal(t, 0, res.IssuesExisting)
	require.Len(t, ft.createdIssues, 2)
	assert.Equal(t, "Invoices", ft.createdIssues[0].Title)
	assert.Equal(t, "PDF export", ft.createdIssues[1].Title)
}

func TestImport_NoTeam(t *testing.T) {
	src := &memSource{files: map[string]string{
		"terna/projects/alpha/project.md":                  projectMD("Alpha"),
		"terna/projects/alpha/issues/eng-1-thing/issue.md": issueMD("ENG-1", "Thing", "normal"),
	}}
	ft := newFakeTracker()
	ft.noTeam = true

	res, err := NewImporter(ft, zerolog.Nop()).Import(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProjectsCreated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "could not determine team")
	assert.Empty(t, ft.createdIssues)
}

func TestImport_MissingRoot(t *testing.T) {
	res, err := NewImporter(newFakeTracker(), zerolog.Nop()).Import(context.Background(), &memSource{files: map[string]string{}})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], ProjectsRoot)
}

func TestImport_RootListingError(t *testing.T) {
	src := &memSource{files: map[string]string{}, listErr: map[string]error{ProjectsRoot: terrors.ErrUnauthorized}}
	_, err := NewImporter(newFakeTracker(), zerolog.Nop()).Import(context.Background(), src)
	assert.ErrorIs(t, err, terrors.ErrUnauthorized)
}

func TestImport_BadIssueDocumentRecorded(t *testing.T) {
	src := &memSource{files: map[string]string{
		"terna/projects/alpha/project.md":                projectMD("Alpha"),
		"terna/projects/alpha/issues/eng-1-bad/issue.md": "no front matter here",
		"terna/projects/alpha/issues/eng-2-ok/issue.md":  issueMD("ENG-2", "Fine", "normal"),
	}}
	ft := newFakeTracker()

	res, err := NewImporter(ft, zerolog.Nop()).Import(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssuesCreated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "eng-1-bad")
}

func TestDownload_WritesMirror(t *testing.T) {
	base := "terna/projects/billing/issues/"
	src := &memSource{files: map[string]string{
		"terna/projects/billing/project.md":                          projectMD("Billing"),
		base + "eng-1-invoices/issue.md":                             issueMD("ENG-1", "Invoices", "high", "backend"),
		base + "eng-1-invoices/sub-issues/eng-2-pdf-export/issue.md": issueMD("ENG-2", "PDF export", "low"),
	}}
	root := t.TempDir()
	store := mirror.New(root, zerolog.Nop())
	store.SetClock(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) })

	res, err := NewDownloader(store, zerolog.Nop()).Download(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Projects)
	assert.Equal(t, 2, res.Issues)
	assert.Empty(t, res.Errors)

	projects, err := store.ReadAllProjects()
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "Billing", projects[0].Document.Name)
	require.Len(t, projects[0].Document.Milestones, 1)

	issues, err := store.ReadAllIssues("billing")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "ENG-1", issues[0].Document.Identifier)
	assert.Equal(t, "high", issues[0].Document.Priority)
	assert.Equal(t, []string{"backend"}, issues[0].Document.Labels)
	assert.Equal(t, "ENG-2", issues[1].Document.Identifier)
	assert.Equal(t, "ENG-1", issues[1].Parent)

	sub := filepath.Join(root, "projects", "billing", "issues", "eng-1-invoices", "sub-issues", "eng-2-pdf-export")
	assert.DirExists(t, sub)
	assert.NoDirExists(t, filepath.Join(sub, "attempts"))
}

func TestDownload_CraftedIdentifierStaysInMirror(t *testing.T) {
	src := &memSource{files: map[string]string{
		"terna/projects/billing/project.md":            projectMD("Billing"),
		"terna/projects/billing/issues/evil/issue.md":  issueMD("../../../../../x", "Escape", "low"),
		"terna/projects/billing/issues/empty/issue.md": issueMD("../..", "Nothing", "low"),
	}}
	base := t.TempDir()
	store := mirror.New(filepath.Join(base, "mirror"), zerolog.Nop())

	res, err := NewDownloader(store, zerolog.Nop()).Download(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Issues)
	require.Len(t, res.Errors, 1)

	assert.FileExists(t, filepath.Join(store.ProjectDir("billing"), mirror.IssuesDir, "x-escape", mirror.IssueFile))
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mirror", entries[0].Name())
}

func TestDownload_MissingRoot(t *testing.T) {
	_, err := NewDownloader(mirror.New(t.TempDir(), zerolog.Nop()), zerolog.Nop()).
		Download(context.Background(), &memSource{files: map[string]string{}})
	assert.ErrorIs(t, err, terrors.ErrNotFound)
}

type recordingCommenter struct {
	issueID string
	body    string
	err     error
}

func (r *recordingCommenter) CreateComment(_ context.Context, issueID, body string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.issueID, r.body = issueID, body
	return "comment-1", nil
}

func writeAttempt(t *testing.T, issueDir string, n int, status string) {
	t.Helper()
	content := fmt.Sprintf(`---
attempt: %d
agent: coder
status: %s
started: "2026-03-01T10:00:00Z"
completed: "2026-03-01T10:30:00Z"
---

Attempt %d notes.
`, n, status, n)
	path := filepath.Join(issueDir, mirror.AttemptsDir, fmt.Sprintf("attempt-%d.md", n))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func seedIssue(t *testing.T, store *mirror.Store, id string) string {
	t.Helper()
	_, err := store.WriteProject(models.Project{ID: "p1", Name: "Billing"}, nil)
	require.NoError(t, err)
	rel, err := store.WriteIssue(models.Issue{ID: id, Identifier: "ENG-7", Title: "Invoices"}, "billing", "")
	require.NoError(t, err)
	return filepath.Join(store.ProjectDir("billing"), mirror.IssuesDir, rel)
}

func TestAttemptPoster_PostsLatest(t *testing.T) {
	store := mirror.New(t.TempDir(), zerolog.Nop())
	dir := seedIssue(t, store, "uuid-7")
	writeAttempt(t, dir, 1, "failure")
	writeAttempt(t, dir, 2, "success")

	c := &recordingCommenter{}
	res, err := NewAttemptPoster(store, c, zerolog.Nop()).Post(context.Background(), "ENG-7")
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Attempt)
	assert.Equal(t, "comment-1", res.CommentID)
	assert.Equal(t, "uuid-7", c.issueID)

	want := "### ✅ Agent Attempt #2 Report (coder)\n\n" +
		"**Task:** `eng-7-invoices`\n" +
		"**Status:** `success`\n" +
		"**Started:** `2026-03-01T10:00:00Z`\n" +
		"**Completed:** `2026-03-01T10:30:00Z`\n\n" +
		"---\n\n" +
		"Attempt 2 notes."
	assert.Equal(t, want, c.body)
}

func TestAttemptPoster_NoAttempts(t *testing.T) {
	store := mirror.New(t.TempDir(), zerolog.Nop())
	seedIssue(t, store, "uuid-7")

	c := &recordingCommenter{}
	res, err := NewAttemptPoster(store, c, zerolog.Nop()).Post(context.Background(), "eng-7")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, c.body)
}

func TestAttemptPoster_MissingTrackerID(t *testing.T) {
	store := mirror.New(t.TempDir(), zerolog.Nop())
	dir := seedIssue(t, store, "")
	writeAttempt(t, dir, 1, "success")

	res, err := NewAttemptPoster(store, &recordingCommenter{}, zerolog.Nop()).Post(context.Background(), "ENG-7")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Contains(t, res.SkipReason, "tracker id")
}

func TestAttemptPoster_UnknownIssue(t *testing.T) {
	store := mirror.New(t.TempDir(), zerolog.Nop())
	_, err := NewAttemptPoster(store, &recordingCommenter{}, zerolog.Nop()).Post(context.Background(), "ENG-99")
	assert.ErrorIs(t, err, terrors.ErrNotFound)
}

func TestAttemptPoster_CommentError(t *testing.T) {
	store := mirror.New(t.TempDir(), zerolog.Nop())
	dir := seedIssue(t, store, "uuid-7")
	writeAttempt(t, dir, 1, "success")

	_, err := NewAttemptPoster(store, &recordingCommenter{err: terrors.ErrRateLimited}, zerolog.Nop()).Post(context.Background(), "ENG-7")
	assert.ErrorIs(t, err, terrors.ErrRateLimited)
}

func TestFormatAttempt_Defaults(t *testing.T) {
	out := FormatAttempt(mirror.Attempt{Document: mirror.AttemptDocument{Attempt: 3, Agent: "bot"}, Body: "  x  "}, "eng-1")
	assert.True(t, strings.HasPrefix(out, "### ❌ Agent Attempt #3 Report (bot)"))
	assert.Contains(t, out, "**Status:** `N/A`")
	assert.True(t, strings.HasSuffix(out, "---\n\nx"))
}
