package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/mirror"
	"github.com/nfugallo/terna/internal/models"
)

// Mirror receives tracker entities after they are created.
type Mirror interface {
	WriteProject(p models.Project, milestones []models.Milestone) (string, error)
	WriteIssue(i models.Issue, projectSlug, parentPath string) (string, error)
}

// MilestoneSpec describes a milestone to create alongside a project.
type MilestoneSpec struct {
	Name             string `json:"name"`
	DefinitionOfDone string `json:"definitionOfDone"`
	TargetDate       string `json:"targetDate,omitempty"`
}

// ProjectSpec describes a project to create. Team is a team name, key or id;
// the adapter's default team is used when empty.
type ProjectSpec struct {
	Name        string
	Description string
	Content     string
	TargetDate  string
	Team        string
	Milestones  []MilestoneSpec
}

// Validate checks the fields the tracker would reject.
func (s ProjectSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return terrors.Invalid("project name is required")
	}
	if n := len([]rune(s.Description)); n > models.MaxProjectDescription {
		return terrors.Invalid("project description is %d characters, the limit is %d; move the detail into content", n, models.MaxProjectDescription)
	}
	for i, m := range s.Milestones {
		if strings.TrimSpace(m.Name) == "" {
			return terrors.Invalid("milestone %d has no name", i+1)
		}
	}
	return nil
}

// Adapter is the typed façade the tools and the sync engine use. It resolves
// loose identifiers, applies defaults and mirrors created entities.
type Adapter struct {
	api         API
	mirror      Mirror
	workspace   string
	defaultTeam string
	states      *teamCache[[]models.WorkflowState]
	labels      *teamCache[[]models.Label]
	logger      zerolog.Logger
}

// NewAdapter creates an adapter. mirror may be nil to disable mirroring.
func NewAdapter(api API, m Mirror, workspace, defaultTeam string, logger zerolog.Logger) *Adapter {
	return &Adapter{
		api:         api,
		mirror:      m,
		workspace:   workspace,
		defaultTeam: defaultTeam,
		states:      newTeamCache[[]models.WorkflowState](teamCacheSize, teamCacheTTL),
		labels:      newTeamCache[[]models.Label](teamCacheSize, teamCacheTTL),
		logger:      logger.With().Str("component", "tracker").Logger(),
	}
}

// ProjectURL returns the web URL of a project.
func (a *Adapter) ProjectURL(id string) string {
	return fmt.Sprintf("https://linear.app/%s/project/%s", a.workspace, id)
}

// IssueURL returns the web URL of an issue.
func (a *Adapter) IssueURL(identifier string) string {
	return fmt.Sprintf("https://linear.app/%s/issue/%s", a.workspace, identifier)
}

func (a *Adapter) fail(op string, err error) error {
	a.logger.Error().Err(err).Str("op", op).Msg("tracker operation failed")
	return fmt.Errorf("%s: %w", op, err)
}

// Teams lists all teams.
func (a *Adapter) Teams(ctx context.Context) ([]models.Team, error) {
	teams, err := a.api.Teams(ctx)
	if err != nil {
		return nil, a.fail("teams", err)
	}
	return teams, nil
}

// GetTeam finds a team whose name contains ref, or whose key or id equals
// it. It returns nil when nothing matches.
func (a *Adapter) GetTeam(ctx context.Context, ref string) (*models.Team, error) {
	teams, err := a.Teams(ctx)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(ref)
	for _, t := range teams {
		if strings.Contains(strings.ToLower(t.Name), lower) || strings.EqualFold(t.Key, ref) || t.ID == ref {
			return &t, nil
		}
	}
	return nil, nil
}

// SearchTeams returns teams whose name or key contains query.
func (a *Adapter) SearchTeams(ctx context.Context, query string) ([]models.Team, error) {
	teams, err := a.Teams(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []models.Team
	for _, t := range teams {
		if strings.Contains(strings.ToLower(t.Name), q) || strings.Contains(strings.ToLower(t.Key), q) {
			out = append(out, t)
		}
	}
	return out, nil
}

// WorkflowStates lists a team's workflow states. Results are cached per
// team for a few minutes.
func (a *Adapter) WorkflowStates(ctx context.Context, teamID string) ([]models.WorkflowState, error) {
	if states, ok := a.states.get(teamID); ok {
		return states, nil
	}
	states, err := a.api.WorkflowStates(ctx, teamID)
	if err != nil {
		return nil, a.fail("workflowStates", err)
	}
	a.states.put(teamID, states)
	return states, nil
}

// Labels lists a team's labels. Results are cached like WorkflowStates.
func (a *Adapter) Labels(ctx context.Context, teamID string) ([]models.Label, error) {
	if labels, ok := a.labels.get(teamID); ok {
		return labels, nil
	}
	labels, err := a.api.Labels(ctx, teamID)
	if err != nil {
		return nil, a.fail("labels", err)
	}
	a.labels.put(teamID, labels)
	return labels, nil
}

// ForgetTeam drops the cached workflow states and labels of a team.
func (a *Adapter) ForgetTeam(teamID string) {
	a.states.forget(teamID)
	a.labels.forget(teamID)
}

// Projects lists projects matching filter.
func (a *Adapter) Projects(ctx context.Context, filter ProjectFilter) ([]models.Project, error) {
	projects, err := a.api.Projects(ctx, filter)
	if err != nil {
		return nil, a.fail("projects", err)
	}
	return projects, nil
}

// SearchProjects returns projects where any whitespace separated term of
// query appears in the name or description.
func (a *Adapter) SearchProjects(ctx context.Context, query string) ([]models.Project, error) {
	projects, err := a.Projects(ctx, ProjectFilter{})
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	var out []models.Project
	for _, p := range projects {
		text := strings.ToLower(p.Name + " " + p.Description)
		for _, term := range terms {
			if strings.Contains(text, term) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

// FindProjectsByName returns projects whose name equals name, ignoring case.
func (a *Adapter) FindProjectsByName(ctx context.Context, name string) ([]models.Project, error) {
	projects, err := a.Projects(ctx, ProjectFilter{})
	if err != nil {
		return nil, err
	}
	var out []models.Project
	for _, p := range projects {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Project fetches a project by any reference ParseProjectID accepts.
func (a *Adapter) Project(ctx context.Context, ref string) (*models.Project, error) {
	p, err := a.api.Project(ctx, a.ParseProjectID(ctx, ref))
	if err != nil {
		return nil, a.fail("project", err)
	}
	return p, nil
}

// CreateProject creates a project and its milestones, then mirrors it.
// Mirror failures are logged and do not fail the call.
func (a *Adapter) CreateProject(ctx context.Context, spec ProjectSpec) (*models.Project, []models.Milestone, error) {
	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}

	teamRef := spec.Team
	if teamRef == "" {
		teamRef = a.defaultTeam
	}
	team, err := a.GetTeam(ctx, teamRef)
	if err != nil {
		return nil, nil, err
	}
	if team == nil {
		return nil, nil, terrors.Invalid("team %q not found", teamRef)
	}

	p, err := a.api.CreateProject(ctx, ProjectCreateInput{
		Name:        spec.Name,
		Description: spec.Description,
		Content:     spec.Content,
		TargetDate:  spec.TargetDate,
		TeamIDs:     []string{team.ID},
	})
	if err != nil {
		return nil, nil, a.fail("createProject", err)
	}
	if p.URL == "" {
		p.URL = a.ProjectURL(p.ID)
	}
	if len(p.Teams) == 0 {
		p.Teams = []models.Team{*team}
	}

	milestones := make([]models.Milestone, 0, len(spec.Milestones))
	for _, m := range spec.Milestones {
		created, err := a.api.CreateMilestone(ctx, MilestoneCreateInput{
			ProjectID:   p.ID,
			Name:        m.Name,
			Description: m.DefinitionOfDone,
			TargetDate:  m.TargetDate,
		})
		if err != nil {
			return p, milestones, a.fail("createMilestone", fmt.Errorf("milestone %q: %w", m.Name, err))
		}
		milestones = append(milestones, *created)
	}
	p.Milestones = milestones

	a.logger.Info().Str("project_id", p.ID).Str("name", p.Name).Int("milestones", len(milestones)).Msg("project created")

	if a.mirror != nil {
		if dir, err := a.mirror.WriteProject(*p, milestones); err != nil {
			a.logger.Warn().Err(err).Str("project", p.Name).Msg("mirroring project failed")
		} else {
			a.logger.Debug().Str("dir", dir).Msg("project mirrored")
		}
	}
	return p, milestones, nil
}

// UpdateProject updates a project by any reference ParseProjectID accepts.
func (a *Adapter) UpdateProject(ctx context.Context, ref string, in ProjectUpdateInput) (*models.Project, error) {
	if in.Description != nil && len([]rune(*in.Description)) > models.MaxProjectDescription {
		return nil, terrors.Invalid("project description exceeds %d characters; move the detail into content", models.MaxProjectDescription)
	}
	p, err := a.api.UpdateProject(ctx, a.ParseProjectID(ctx, ref), in)
	if err != nil {
		return nil, a.fail("updateProject", err)
	}
	return p, nil
}

// ProjectMilestones lists the milestones of a project.
func (a *Adapter) ProjectMilestones(ctx context.Context, ref string) ([]models.Milestone, error) {
	ms, err := a.api.ProjectMilestones(ctx, a.ParseProjectID(ctx, ref))
	if err != nil {
		return nil, a.fail("projectMilestones", err)
	}
	return ms, nil
}

// ProjectIssues lists the top-level issues of a project.
func (a *Adapter) ProjectIssues(ctx context.Context, ref string) ([]models.Issue, error) {
	issues, err := a.api.Issues(ctx, IssueFilter{ProjectID: a.ParseProjectID(ctx, ref), TopLevelOnly: true})
	if err != nil {
		return nil, a.fail("projectIssues", err)
	}
	return issues, nil
}

// Issue fetches an issue by id, identifier or URL.
func (a *Adapter) Issue(ctx context.Context, ref string) (*models.Issue, error) {
	issue, err := a.api.Issue(ctx, ParseIssueID(ref))
	if err != nil {
		return nil, a.fail("issue", err)
	}
	return issue, nil
}

// SubIssues lists the children of an issue.
func (a *Adapter) SubIssues(ctx context.Context, ref string) ([]models.Issue, error) {
	issues, err := a.api.SubIssues(ctx, ParseIssueID(ref))
	if err != nil {
		return nil, a.fail("subIssues", err)
	}
	return issues, nil
}

// SearchIssues matches query against issue titles and descriptions,
// optionally within one team.
func (a *Adapter) SearchIssues(ctx context.Context, query, teamID string) ([]models.Issue, error) {
	issues, err := a.api.Issues(ctx, IssueFilter{Query: query, TeamID: teamID})
	if err != nil {
		return nil, a.fail("searchIssues", err)
	}
	return issues, nil
}

// CreateIssue creates an issue and mirrors it under its project, nesting it
// below its parent chain. Mirror failures are logged and do not fail the
// call.
func (a *Adapter) CreateIssue(ctx context.Context, in IssueCreateInput) (*models.Issue, error) {
	issue, err := a.api.CreateIssue(ctx, in)
	if err != nil {
		return nil, a.fail("createIssue", err)
	}
	if issue.URL == "" {
		issue.URL = a.IssueURL(issue.Identifier)
	}
	a.logger.Info().Str("issue", issue.Identifier).Str("parent_id", in.ParentID).Msg("issue created")

	if a.mirror != nil {
		if err := a.mirrorIssue(ctx, *issue); err != nil {
			a.logger.Warn().Err(err).Str("issue", issue.Identifier).Msg("mirroring issue failed")
		}
	}
	return issue, nil
}

func (a *Adapter) mirrorIssue(ctx context.Context, issue models.Issue) error {
	if issue.Project == nil || issue.Project.Name == "" {
		return fmt.Errorf("issue %s has no project", issue.Identifier)
	}
	parentPath, err := a.parentPath(ctx, issue.Parent)
	if err != nil {
		return err
	}
	_, err = a.mirror.WriteIssue(issue, mirror.Slugify(issue.Project.Name), parentPath)
	return err
}

// parentPath walks up the parent chain and returns the mirror path of ref
// relative to the project's issues directory.
func (a *Adapter) parentPath(ctx context.Context, ref *models.IssueRef) (string, error) {
	var chain []string
	for ref != nil {
		parent, err := a.api.Issue(ctx, ref.ID)
		if err != nil {
			return "", fmt.Errorf("resolving parent %s: %w", ref.Identifier, err)
		}
		if parent == nil {
			return "", fmt.Errorf("parent %s not found", ref.Identifier)
		}
		chain = append(chain, mirror.IssueFolderName(parent.Identifier, parent.Title))
		ref = parent.Parent
	}
	if len(chain) == 0 {
		return "", nil
	}

	parts := []string{chain[len(chain)-1]}
	for i := len(chain) - 2; i >= 0; i-- {
		parts = append(parts, mirror.SubIssuesDir, chain[i])
	}
	return filepath.Join(parts...), nil
}

// UpdateIssue updates an issue by id, identifier or URL.
func (a *Adapter) UpdateIssue(ctx context.Context, ref string, in IssueUpdateInput) (*models.Issue, error) {
	issue, err := a.api.UpdateIssue(ctx, ParseIssueID(ref), in)
	if err != nil {
		return nil, a.fail("updateIssue", err)
	}
	return issue, nil
}

// CreateComment posts a markdown comment on an issue.
func (a *Adapter) CreateComment(ctx context.Context, issueID, body string) (string, error) {
	id, err := a.api.CreateComment(ctx, issueID, body)
	if err != nil {
		return "", a.fail("createComment", err)
	}
	return id, nil
}

// Viewer returns the authenticated user.
func (a *Adapter) Viewer(ctx context.Context) (*models.User, error) {
	u, err := a.api.Viewer(ctx)
	if err != nil {
		return nil, a.fail("viewer", err)
	}
	return u, nil
}
