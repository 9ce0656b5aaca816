package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nfugallo/terna/internal/github"
	"github.com/nfugallo/terna/internal/metrics"
	"github.com/nfugallo/terna/internal/mirror"
	"github.com/nfugallo/terna/internal/models"
	"github.com/nfugallo/terna/internal/tracker"
)

// Tracker is the subset of *tracker.Adapter the importer needs.
type Tracker interface {
	FindProjectsByName(ctx context.Context, name string) ([]models.Project, error)
	CreateProject(ctx context.Context, spec tracker.ProjectSpec) (*models.Project, []models.Milestone, error)
	SearchIssues(ctx context.Context, query, teamID string) ([]models.Issue, error)
	WorkflowStates(ctx context.Context, teamID string) ([]models.WorkflowState, error)
	Labels(ctx context.Context, teamID string) ([]models.Label, error)
	CreateIssue(ctx context.Context, in tracker.IssueCreateInput) (*models.Issue, error)
}

var _ Tracker = (*tracker.Adapter)(nil)

// ImportResult summarizes an import run. Errors holds one message per
// project or issue that failed; the rest of the batch still ran.
type ImportResult struct {
	ProjectsCreated  int      `json:"projectsCreated"`
	ProjectsExisting int      `json:"projectsExisting"`
	IssuesCreated    int      `json:"issuesCreated"`
	IssuesExisting   int      `json:"issuesExisting"`
	Errors           []string `json:"errors"`
}

func (r *ImportResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Importer creates tracker projects and issues from a repository's terna/
// tree. It only creates: entities that already exist are left untouched.
type Importer struct {
	tracker Tracker
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewImporter creates an importer.
func NewImporter(t Tracker, logger zerolog.Logger) *Importer {
	return &Importer{
		tracker: t,
		logger:  logger.With().Str("component", "sync.import").Logger(),
	}
}

// SetMetrics enables per-entity counters.
func (im *Importer) SetMetrics(m *metrics.Metrics) { im.metrics = m }

func (im *Importer) count(kind, outcome string) {
	if im.metrics != nil {
		im.metrics.RecordSyncEntity(kind, outcome)
	}
}

// Import walks terna/projects in src. Only a failure to list the root is
// returned as an error; everything else is reported in the result.
func (im *Importer) Import(ctx context.Context, src Source) (*ImportResult, error) {
	res := &ImportResult{Errors: []string{}}

	root, err := src.ListDir(ctx, ProjectsRoot)
	if err != nil {
		return res, fmt.Errorf("accessing %s: %w", ProjectsRoot, err)
	}
	if !root.Present {
		res.fail("no %s folder in repository", ProjectsRoot)
		return res, nil
	}

	for _, dir := range root.Dirs() {
		if err := im.importProject(ctx, src, dir, res); err != nil {
			im.logger.Error().Err(err).Str("project", dir.Name).Msg("project import failed")
			im.count("project", "error")
			res.fail("error processing project %s: %v", dir.Name, err)
		}
	}

	im.logger.Info().
		Int("projects_created", res.ProjectsCreated).
		Int("projects_existing", res.ProjectsExisting).
		Int("issues_created", res.IssuesCreated).
		Int("issues_existing", res.IssuesExisting).
		Int("errors", len(res.Errors)).
		Msg("import finished")
	return res, nil
}

func (im *Importer) importProject(ctx context.Context, src Source, dir github.Entry, res *ImportResult) error {
	var doc mirror.ProjectDocument
	body, err := readDocument(ctx, src, join(dir.Path, mirror.ProjectFile), &doc)
	if err != nil {
		return err
	}
	if strings.TrimSpace(doc.Name) == "" {
		return fmt.Errorf("%s has no name", mirror.ProjectFile)
	}

	existing, err := im.tracker.FindProjectsByName(ctx, doc.Name)
	if err != nil {
		return fmt.Errorf("searching project: %w", err)
	}

	var project *models.Project
	if len(existing) == 0 {
		project, _, err = im.tracker.CreateProject(ctx, projectSpec(doc, body))
		if err != nil {
			return fmt.Errorf("creating project: %w", err)
		}
		res.ProjectsCreated++
		im.count("project", "created")
		im.logger.Info().Str("project", doc.Name).Msg("created project")
	} else {
		project = &existing[0]
		res.ProjectsExisting++
		im.count("project", "existing")
		im.logger.Info().Str("project", doc.Name).Msg("project already exists")
	}

	team, ok := project.PrimaryTeam()
	if !ok {
		res.fail("could not determine team for project %s; cannot sync issues", project.Name)
		return nil
	}

	scope := issueScope{projectID: project.ID, teamID: team.ID}
	im.importIssues(ctx, src, scope, join(dir.Path, mirror.IssuesDir), "", res)
	return nil
}

func projectSpec(doc mirror.ProjectDocument, body string) tracker.ProjectSpec {
	content := strings.TrimSpace(body)
	if content == "" {
		content = doc.Content
	}
	spec := tracker.ProjectSpec{
		Name:        doc.Name,
		Description: doc.Description,
		Content:     content,
		TargetDate:  doc.Target,
	}
	for _, m := range doc.Milestones {
		spec.Milestones = append(spec.Milestones, tracker.MilestoneSpec{Name: m.Name, DefinitionOfDone: m.Description})
	}
	return spec
}

// issueScope carries what every issue of one project needs. States and
// labels are fetched once per project on first use.
type issueScope struct {
	projectID string
	teamID    string
	states    []models.WorkflowState
	labels    []models.Label
	loaded    bool
}

func (s *issueScope) load(ctx context.Context, t Tracker) error {
	if s.loaded {
		return nil
	}
	states, err := t.WorkflowStates(ctx, s.teamID)
	if err != nil {
		return fmt.Errorf("fetching workflow states: %w", err)
	}
	labels, err := t.Labels(ctx, s.teamID)
	if err != nil {
		return fmt.Errorf("fetching labels: %w", err)
	}
	s.states, s.labels, s.loaded = states, labels, true
	return nil
}

func (s *issueScope) stateID(status string) string {
	for _, st := range s.states {
		if strings.EqualFold(st.Name, status) || strings.EqualFold(mirror.StatusSlug(st.Name), status) {
			return st.ID
		}
	}
	return ""
}

func (s *issueScope) labelIDs(names []string) []string {
	var ids []string
	for _, name := range names {
		for _, l := range s.labels {
			if l.Name == name {
				ids = append(ids, l.ID)
				break
			}
		}
	}
	return ids
}

// importIssues processes every issue folder under dir. A missing dir means
// no issues.
func (im *Importer) importIssues(ctx context.Context, src Source, scope issueScope, dir, parentID string, res *ImportResult) {
	listing, err := src.ListDir(ctx, dir)
	if err != nil {
		im.logger.Error().Err(err).Str("dir", dir).Msg("listing issues failed")
		res.fail("error accessing %s: %v", dir, err)
		return
	}
	if !listing.Present {
		return
	}

	for _, entry := range listing.Dirs() {
		created, err := im.importIssue(ctx, src, &scope, entry, parentID, res)
		if err != nil {
			im.logger.Error().Err(err).Str("issue", entry.Name).Msg("issue import failed")
			im.count("issue", "error")
			res.fail("error processing issue %s: %v", entry.Name, err)
			continue
		}
		if created != nil {
			im.importIssues(ctx, src, scope, join(entry.Path, mirror.SubIssuesDir), created.ID, res)
		}
	}
}

// importIssue creates the issue in entry unless one with the same
// identifier exists in the team. It returns the created issue, or nil when
// it was skipped.
func (im *Importer) importIssue(ctx context.Context, src Source, scope *issueScope, entry github.Entry, parentID string, res *ImportResult) (*models.Issue, error) {
	var doc mirror.IssueDocument
	body, err := readDocument(ctx, src, join(entry.Path, mirror.IssueFile), &doc)
	if err != nil {
		return nil, err
	}
	if doc.Title == "" {
		return nil, errors.New("issue has no title")
	}

	if doc.Identifier != "" {
		found, err := im.tracker.SearchIssues(ctx, doc.Identifier, scope.teamID)
		if err != nil {
			return nil, fmt.Errorf("searching issue: %w", err)
		}
		if hasIdentifier(found, doc.Identifier) {
			res.IssuesExisting++
			im.count("issue", "existing")
			im.logger.Info().Str("issue", doc.Identifier).Msg("issue already exists")
			return nil, nil
		}
	}

	if err := scope.load(ctx, im.tracker); err != nil {
		return nil, err
	}

	description := strings.TrimSpace(body)
	if description == "" && doc.Description != nil {
		description = *doc.Description
	}
	priority := int(models.ParsePriority(doc.Priority))

	issue, err := im.tracker.CreateIssue(ctx, tracker.IssueCreateInput{
		Title:       doc.Title,
		Description: description,
		TeamID:      scope.teamID,
		ProjectID:   scope.projectID,
		ParentID:    parentID,
		StateID:     scope.stateID(doc.Status),
		Priority:    &priority,
		Estimate:    doc.Estimate,
		LabelIDs:    scope.labelIDs(doc.Labels),
	})
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}

	res.IssuesCreated++
	im.count("issue", "created")
	im.logger.Info().Str("source", doc.Identifier).Str("issue", issue.Identifier).Str("title", doc.Title).Msg("created issue")
	return issue, nil
}

// hasIdentifier reports whether issues holds identifier itself. A text
// search also matches titles that mention it.
func hasIdentifier(issues []models.Issue, identifier string) bool {
	for _, i := range issues {
		if strings.EqualFold(i.Identifier, identifier) {
			return true
		}
	}
	return false
}
