package mirror

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfugallo/terna/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir(), zerolog.Nop())
	s.SetClock(func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) })
	return s
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Trigger Batch Jobs!", "trigger-batch-jobs"},
		{"Outbound Automation v1", "outbound-automation-v1"},
		{"  --Hello__World--  ", "hello-world"},
		{"already-a-slug", "already-a-slug"},
		{"Ünïcode & Friends", "n-code-friends"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Slugify(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Slugify(got), "slugify must be idempotent")
		})
	}
}

func TestIssueFolderName(t *testing.T) {
	assert.Equal(t, "eng-12-add-login-page", IssueFolderName("ENG-12", "Add login page"))
	assert.Equal(t, "eng-13", IssueFolderName("ENG-13", "???"))
	assert.Equal(t, "outside-pwn", IssueFolderName("../../../../outside", "pwn"))
	assert.Equal(t, "a-b-c-title", IssueFolderName("a/b\\c", "Title"))
}

func TestWriteIssue_StaysInsideRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "mirror")
	s := New(root, zerolog.Nop())

	rel, err := s.WriteIssue(models.Issue{ID: "1", Identifier: "../../../../outside", Title: "pwn"}, "proj", "")
	require.NoError(t, err)
	assert.Equal(t, "outside-pwn", rel)
	assert.FileExists(t, filepath.Join(s.ProjectDir("proj"), "issues", "outside-pwn", "issue.md"))
	assert.NoFileExists(t, filepath.Join(base, "outside-pwn", "issue.md"))

	_, err = s.WriteIssue(models.Issue{ID: "3", Identifier: "A-3", Title: "x"}, "../escape", "")
	assert.ErrorIs(t, err, ErrOutsideRoot)

	_, err = s.WriteIssue(models.Issue{ID: "4", Identifier: "A-4", Title: "x"}, "proj", "../../..")
	assert.ErrorIs(t, err, ErrOutsideRoot)

	_, err = s.WriteIssue(models.Issue{ID: "5", Identifier: "../..", Title: "x"}, "proj", "")
	assert.Error(t, err)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mirror", entries[0].Name())
}

func TestWriteProject_OutboundAutomation(t *testing.T) {
	s := newTestStore(t)
	project := models.Project{
		ID:          "proj-1",
		Name:        "Outbound Automation v1",
		Description: "Automate outbound sequences",
		State:       "Planned",
		URL:         "https://linear.app/terna/project/outbound-automation-v1-abc123",
		TargetDate:  "2026-06-30",
	}
	milestones := []models.Milestone{
		{Name: "Foundations", Description: "Data model in place"},
		{Name: "Beta", Description: "Ten pilot customers"},
		{Name: "GA"},
	}

	dir, err := s.WriteProject(project, milestones)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "projects", "outbound-automation-v1"), dir)
	assert.DirExists(t, filepath.Join(dir, "issues"))

	data, err := os.ReadFile(filepath.Join(dir, "project.md"))
	require.NoError(t, err)

	var doc ProjectDocument
	body, err := ParseFrontMatter(data, &doc)
	require.NoError(t, err)

	assert.Equal(t, "proj-1", doc.ID)
	assert.Equal(t, "planned", doc.Status)
	assert.Equal(t, "2026-03-14", doc.Created)
	assert.Equal(t, "2026-06-30", doc.Target)
	require.Len(t, doc.Milestones, 3)
	for _, m := range doc.Milestones {
		assert.False(t, m.Completed)
	}

	assert.True(t, strings.HasPrefix(body, "# Outbound Automation v1\n"))
	require.Contains(t, body, "## Milestones\n")
	section := body[strings.Index(body, "## Milestones\n"):]
	assert.Equal(t, 3, strings.Count(section, "- [ ] "))
	assert.Contains(t, section, "- [ ] Foundations - Data model in place\n")
	assert.Contains(t, section, "- [ ] GA\n")
}

func TestWriteProject_OverwriteIsFullReplacement(t *testing.T) {
	s := newTestStore(t)
	p := models.Project{ID: "p1", Name: "Mirror", State: "planned"}
	_, err := s.WriteProject(p, []models.Milestone{{Name: "One"}, {Name: "Two"}})
	require.NoError(t, err)

	p.State = "started"
	_, err = s.WriteProject(p, nil)
	require.NoError(t, err)

	records, err := s.ReadAllProjects()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "started", records[0].Document.Status)
	assert.Empty(t, records[0].Document.Milestones)
	assert.NotContains(t, records[0].Body, "## Milestones")
}

func TestWriteProject_EmptySlug(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteProject(models.Project{Name: "***"}, nil)
	assert.Error(t, err)
}

func TestProjectRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteProject(models.Project{ID: "a", Name: "Alpha", State: "started"}, nil)
	require.NoError(t, err)
	_, err = s.WriteProject(models.Project{ID: "b", Name: "Beta Launch", State: "Paused"}, nil)
	require.NoError(t, err)

	records, err := s.ReadAllProjects()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "alpha", records[0].Slug)
	assert.Equal(t, "a", records[0].Document.ID)
	assert.Equal(t, "Alpha", records[0].Document.Name)
	assert.Equal(t, "started", records[0].Document.Status)

	assert.Equal(t, "beta-launch", records[1].Slug)
	assert.Equal(t, "paused", records[1].Document.Status)

	assert.True(t, s.ProjectExists("Beta Launch"))
	assert.True(t, s.ProjectExists("beta   launch!"))
	assert.False(t, s.ProjectExists("Gamma"))
}

func TestReadAllProjects_SkipsBadEntries(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteProject(models.Project{ID: "ok", Name: "Good"}, nil)
	require.NoError(t, err)

	projects := filepath.Join(s.Root(), "projects")
	require.NoError(t, os.MkdirAll(filepath.Join(projects, "empty-dir"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(projects, "no-fence"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projects, "no-fence", "project.md"), []byte("# just markdown"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(projects, "stray.txt"), []byte("x"), 0o644))

	records, err := s.ReadAllProjects()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].Document.ID)
}

func TestReadAllProjects_NoProjectsDir(t *testing.T) {
	s := newTestStore(t)
	records, err := s.ReadAllProjects()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func mainIssue() models.Issue {
	est := 3.0
	return models.Issue{
		ID:          "issue-1",
		Identifier:  "ENG-1",
		Title:       "Build API",
		Description: "Expose REST endpoints\n- already a bullet\n\n* starred item",
		State:       models.WorkflowState{Name: "In Progress"},
		Priority:    models.PriorityHigh,
		Estimate:    &est,
		URL:         "https://linear.app/terna/issue/ENG-1",
		Assignee:    &models.User{Name: "Sam"},
		Labels:      []models.Label{{Name: "backend"}, {Name: "Docs"}},
	}
}

func TestWriteIssue_MainAndSubIssue(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteProject(models.Project{ID: "p", Name: "Platform"}, nil)
	require.NoError(t, err)

	parentRel, err := s.WriteIssue(mainIssue(), "platform", "")
	require.NoError(t, err)
	assert.Equal(t, "eng-1-build-api", parentRel)

	child := models.Issue{ID: "issue-2", Identifier: "ENG-2", Title: "Add auth", State: models.WorkflowState{Name: "Todo"}}
	childRel, err := s.WriteIssue(child, "platform", parentRel)
	require.NoError(t, err)

	issues := filepath.Join(s.ProjectDir("platform"), "issues")
	parentDir := filepath.Join(issues, "eng-1-build-api")
	childDir := filepath.Join(parentDir, "sub-issues", "eng-2-add-auth")

	assert.Equal(t, filepath.Join("eng-1-build-api", "sub-issues", "eng-2-add-auth"), childRel)
	assert.FileExists(t, filepath.Join(childDir, "issue.md"))
	assert.DirExists(t, filepath.Join(parentDir, "sub-issues"))
	assert.DirExists(t, filepath.Join(parentDir, "attempts"))
	assert.NoDirExists(t, filepath.Join(childDir, "sub-issues"))
	assert.NoDirExists(t, filepath.Join(childDir, "attempts"))

	records, err := s.ReadAllIssues("platform")
	require.NoError(t, err)
	require.Len(t, records, 2)

	parent, sub := records[0], records[1]
	assert.Equal(t, "ENG-1", parent.Document.Identifier)
	assert.Empty(t, parent.Parent)
	assert.Nil(t, parent.Document.Parent)
	assert.Equal(t, "in-progress", parent.Document.Status)
	assert.Equal(t, "high", parent.Document.Priority)
	assert.Equal(t, "Sam", parent.Document.Assignee)
	require.NotNil(t, parent.Document.Estimate)
	assert.Equal(t, 3.0, *parent.Document.Estimate)
	assert.Equal(t, []string{"backend", "Docs"}, parent.Document.Labels)

	assert.Equal(t, "ENG-2", sub.Document.Identifier)
	assert.Equal(t, "ENG-1", sub.Parent)
	assert.Equal(t, 1, sub.Depth)
	require.NotNil(t, sub.Document.Parent)
	assert.Equal(t, "eng-1-build-api", *sub.Document.Parent)
	assert.Equal(t, "normal", sub.Document.Priority)
}

func TestWriteIssue_Body(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteIssue(mainIssue(), "platform", "")
	require.NoError(t, err)

	records, err := s.ReadAllIssues("platform")
	require.NoError(t, err)
	require.Len(t, records, 1)
	body := records[0].Body

	assert.True(t, strings.HasPrefix(body, "# Build API\n\n"))
	assert.Contains(t, body, "## Requirements\n- Expose REST endpoints\n- already a bullet\n* starred item\n")
	assert.Contains(t, body, "## Definition of Done\n- [ ] Implementation complete\n- [ ] Tests written and passing\n- [ ] Code reviewed\n")
	assert.Contains(t, body, "- [ ] Documentation updated\n")
}

func TestWriteIssue_NoDescriptionNoDocLabel(t *testing.T) {
	s := newTestStore(t)
	issue := models.Issue{ID: "i", Identifier: "OPS-4", Title: "Rotate keys", Labels: []models.Label{{Name: "security"}}}
	rel, err := s.WriteIssue(issue, "ops", "")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.ProjectDir("ops"), "issues", rel, "issue.md"))
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "parent: null")
	assert.NotContains(t, text, "## Requirements")
	assert.NotContains(t, text, "Documentation updated")
	assert.NotContains(t, text, "assignee:")
	assert.NotContains(t, text, "estimate:")
}

func TestWriteIssue_EmptyDescriptionIsKept(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteIssue(models.Issue{ID: "1", Identifier: "OPS-5", Title: "Blank", HasDescription: true}, "ops", "")
	require.NoError(t, err)
	_, err = s.WriteIssue(models.Issue{ID: "2", Identifier: "OPS-6", Title: "Absent"}, "ops", "")
	require.NoError(t, err)

	records, err := s.ReadAllIssues("ops")
	require.NoError(t, err)
	require.Len(t, records, 2)
	byID := map[string]IssueDocument{}
	for _, r := range records {
		byID[r.Document.Identifier] = r.Document
	}

	require.NotNil(t, byID["OPS-5"].Description)
	assert.Equal(t, "", *byID["OPS-5"].Description)
	assert.Nil(t, byID["OPS-6"].Description)

	data, err := os.ReadFile(filepath.Join(s.ProjectDir("ops"), "issues", "ops-6-absent", "issue.md"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "description:")
}

func TestReadAllIssues_ParentFromPositionWins(t *testing.T) {
	s := newTestStore(t)
	parentRel, err := s.WriteIssue(mainIssue(), "platform", "")
	require.NoError(t, err)

	// A sub-issue whose stored front-matter claims a different parent.
	dir := filepath.Join(s.ProjectDir("platform"), "issues", parentRel, "sub-issues", "eng-9-orphan")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := "---\nid: x\nidentifier: ENG-9\ntitle: Orphan\nparent: eng-77-elsewhere\n---\n\n# Orphan\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "issue.md"), []byte(doc), 0o644))

	records, err := s.ReadAllIssues("platform")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ENG-1", records[1].Parent)
}

func TestReadAllIssues_ArbitraryDepth(t *testing.T) {
	s := newTestStore(t)
	rel, err := s.WriteIssue(models.Issue{ID: "1", Identifier: "A-1", Title: "Root"}, "deep", "")
	require.NoError(t, err)
	rel, err = s.WriteIssue(models.Issue{ID: "2", Identifier: "A-2", Title: "Child"}, "deep", rel)
	require.NoError(t, err)
	_, err = s.WriteIssue(models.Issue{ID: "3", Identifier: "A-3", Title: "Grandchild"}, "deep", rel)
	require.NoError(t, err)

	records, err := s.ReadAllIssues("deep")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 2, records[2].Depth)
	assert.Equal(t, "A-2", records[2].Parent)
	require.NotNil(t, records[2].Document.Parent)
	assert.Equal(t, "a-2-child", *records[2].Document.Parent)
}

func TestReadAllIssues_SkipsUnreadable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteIssue(models.Issue{ID: "1", Identifier: "A-1", Title: "Good"}, "proj", "")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.ProjectDir("proj"), "issues", "a-0-broken"), 0o755))

	records, err := s.ReadAllIssues("proj")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A-1", records[0].Document.Identifier)
}

func TestReadAllIssues_MissingIssuesDir(t *testing.T) {
	s := newTestStore(t)
	records, err := s.ReadAllIssues("nope")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadSubtree(t *testing.T) {
	dir := t.TempDir()

	sub, err := readSubtree(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, sub.Present)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o644))

	sub, err = readSubtree(dir)
	require.NoError(t, err)
	assert.True(t, sub.Present)
	assert.Equal(t, []string{"a", "b"}, sub.Dirs)

	_, err = readSubtree(filepath.Join(dir, "file"))
	assert.Error(t, err, "a file is not an absent subtree")
}
