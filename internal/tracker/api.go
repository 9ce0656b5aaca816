package tracker

import (
	"context"
	"errors"
	"fmt"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/models"
)

// API is the set of tracker operations the adapter depends on. Single-entity
// lookups return (nil, nil) when the entity does not exist.
type API interface {
	Teams(ctx context.Context) ([]models.Team, error)
	Team(ctx context.Context, id string) (*models.Team, error)
	WorkflowStates(ctx context.Context, teamID string) ([]models.WorkflowState, error)
	Labels(ctx context.Context, teamID string) ([]models.Label, error)

	Projects(ctx context.Context, filter ProjectFilter) ([]models.Project, error)
	Project(ctx context.Context, id string) (*models.Project, error)
	CreateProject(ctx context.Context, in ProjectCreateInput) (*models.Project, error)
	UpdateProject(ctx context.Context, id string, in ProjectUpdateInput) (*models.Project, error)
	ProjectMilestones(ctx context.Context, projectID string) ([]models.Milestone, error)
	CreateMilestone(ctx context.Context, in MilestoneCreateInput) (*models.Milestone, error)

	Issues(ctx context.Context, filter IssueFilter) ([]models.Issue, error)
	Issue(ctx context.Context, id string) (*models.Issue, error)
	SubIssues(ctx context.Context, issueID string) ([]models.Issue, error)
	CreateIssue(ctx context.Context, in IssueCreateInput) (*models.Issue, error)
	UpdateIssue(ctx context.Context, id string, in IssueUpdateInput) (*models.Issue, error)
	CreateComment(ctx context.Context, issueID, body string) (string, error)

	Viewer(ctx context.Context) (*models.User, error)
}

var _ API = (*Client)(nil)

// Teams lists all teams in the workspace.
func (c *Client) Teams(ctx context.Context) ([]models.Team, error) {
	var data struct {
		Teams teamNodes `json:"teams"`
	}
	if err := c.query(ctx, "teams", queryTeams, map[string]any{"first": pageSize}, &data); err != nil {
		return nil, err
	}
	return data.Teams.Nodes, nil
}

// Team fetches a team by ID or key.
func (c *Client) Team(ctx context.Context, id string) (*models.Team, error) {
	var data struct {
		Team *models.Team `json:"team"`
	}
	if err := c.query(ctx, "team", queryTeam, map[string]any{"id": id}, &data); err != nil {
		return nil, notFoundAsNil(err)
	}
	return data.Team, nil
}

// WorkflowStates lists a team's workflow states.
func (c *Client) WorkflowStates(ctx context.Context, teamID string) ([]models.WorkflowState, error) {
	var data struct {
		Team *struct {
			States struct {
				Nodes []models.WorkflowState `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	if err := c.query(ctx, "workflowStates", queryWorkflowStates, map[string]any{"id": teamID}, &data); err != nil {
		return nil, notFoundAsNil(err)
	}
	if data.Team == nil {
		return nil, nil
	}
	return data.Team.States.Nodes, nil
}

// Labels lists a team's issue labels.
func (c *Client) Labels(ctx context.Context, teamID string) ([]models.Label, error) {
	var data struct {
		Team *struct {
			Labels struct {
				Nodes []models.Label `json:"nodes"`
			} `json:"labels"`
		} `json:"team"`
	}
	if err := c.query(ctx, "labels", queryLabels, map[string]any{"id": teamID}, &data); err != nil {
		return nil, notFoundAsNil(err)
	}
	if data.Team == nil {
		return nil, nil
	}
	return data.Team.Labels.Nodes, nil
}

// Projects lists projects matching filter.
func (c *Client) Projects(ctx context.Context, filter ProjectFilter) ([]models.Project, error) {
	var data struct {
		Projects struct {
			Nodes []wireProject `json:"nodes"`
		} `json:"projects"`
	}
	if err := c.query(ctx, "projects", queryProjects, filter.variables(), &data); err != nil {
		return nil, err
	}
	out := make([]models.Project, 0, len(data.Projects.Nodes))
	for _, p := range data.Projects.Nodes {
		out = append(out, p.model())
	}
	return out, nil
}

// Project fetches a project with its milestones.
func (c *Client) Project(ctx context.Context, id string) (*models.Project, error) {
	var data struct {
		Project *wireProject `json:"project"`
	}
	if err := c.query(ctx, "project", queryProject, map[string]any{"id": id}, &data); err != nil {
		return nil, notFoundAsNil(err)
	}
	if data.Project == nil {
		return nil, nil
	}
	p := data.Project.model()
	return &p, nil
}

// CreateProject creates a project. Milestones are created separately.
func (c *Client) CreateProject(ctx context.Context, in ProjectCreateInput) (*models.Project, error) {
	var data struct {
		ProjectCreate struct {
			Success bool         `json:"success"`
			Project *wireProject `json:"project"`
		} `json:"projectCreate"`
	}
	if err := c.mutate(ctx, "projectCreate", mutationCreateProject, map[string]any{"input": in}, &data); err != nil {
		return nil, err
	}
	if !data.ProjectCreate.Success || data.ProjectCreate.Project == nil {
		return nil, fmt.Errorf("projectCreate: tracker reported failure")
	}
	p := data.ProjectCreate.Project.model()
	return &p, nil
}

// UpdateProject updates the given fields of a project.
func (c *Client) UpdateProject(ctx context.Context, id string, in ProjectUpdateInput) (*models.Project, error) {
	var data struct {
		ProjectUpdate struct {
			Success bool         `json:"success"`
			Project *wireProject `json:"project"`
		} `json:"projectUpdate"`
	}
	if err := c.mutate(ctx, "projectUpdate", mutationUpdateProject, map[string]any{"id": id, "input": in}, &data); err != nil {
		return nil, err
	}
	if !data.ProjectUpdate.Success || data.ProjectUpdate.Project == nil {
		return nil, fmt.Errorf("projectUpdate: tracker reported failure")
	}
	p := data.ProjectUpdate.Project.model()
	return &p, nil
}

// ProjectMilestones lists a project's milestones.
func (c *Client) ProjectMilestones(ctx context.Context, projectID string) ([]models.Milestone, error) {
	var data struct {
		Project *struct {
			ProjectMilestones struct {
				Nodes []models.Milestone `json:"nodes"`
			} `json:"projectMilestones"`
		} `json:"project"`
	}
	if err := c.query(ctx, "projectMilestones", queryProjectMilestones, map[string]any{"id": projectID}, &data); err != nil {
		return nil, notFoundAsNil(err)
	}
	if data.Project == nil {
		return nil, nil
	}
	return data.Project.ProjectMilestones.Nodes, nil
}

// CreateMilestone creates a milestone on a project.
func (c *Client) CreateMilestone(ctx context.Context, in MilestoneCreateInput) (*models.Milestone, error) {
	var data struct {
		ProjectMilestoneCreate struct {
			Success          bool              `json:"success"`
			ProjectMilestone *models.Milestone `json:"projectMilestone"`
		} `json:"projectMilestoneCreate"`
	}
	if err := c.mutate(ctx, "projectMilestoneCreate", mutationCreateMilestone, map[string]any{"input": in}, &data); err != nil {
		return nil, err
	}
	if !data.ProjectMilestoneCreate.Success || data.ProjectMilestoneCreate.ProjectMilestone == nil {
		return nil, fmt.Errorf("projectMilestoneCreate: tracker reported failure")
	}
	return data.ProjectMilestoneCreate.ProjectMilestone, nil
}

// Issues lists issues matching filter.
func (c *Client) Issues(ctx context.Context, filter IssueFilter) ([]models.Issue, error) {
	var data struct {
		Issues struct {
			Nodes []wireIssue `json:"nodes"`
		} `json:"issues"`
	}
	if err := c.query(ctx, "issues", queryIssues, filter.variables(), &data); err != nil {
		return nil, err
	}
	return issueModels(data.Issues.Nodes), nil
}

// Issue fetches an issue by ID or identifier (e.g. ENG-12).
func (c *Client) Issue(ctx context.Context, id string) (*models.Issue, error) {
	var data struct {
		Issue *wireIssue `json:"issue"`
	}
	if err := c.query(ctx, "issue", queryIssue, map[string]any{"id": id}, &data); err != nil {
		return nil, notFoundAsNil(err)
	}
	if data.Issue == nil {
		return nil, nil
	}
	issue := data.Issue.model()
	return &issue, nil
}

// SubIssues lists the direct children of an issue.
func (c *Client) SubIssues(ctx context.Context, issueID string) ([]models.Issue, error) {
	var data struct {
		Issue *struct {
			Children struct {
				Nodes []wireIssue `json:"nodes"`
			} `json:"children"`
		} `json:"issue"`
	}
	if err := c.query(ctx, "subIssues", querySubIssues, map[string]any{"id": issueID, "first": pageSize}, &data); err != nil {
		return nil, notFoundAsNil(err)
	}
	if data.Issue == nil {
		return nil, nil
	}
	return issueModels(data.Issue.Children.Nodes), nil
}

// CreateIssue creates an issue.
func (c *Client) CreateIssue(ctx context.Context, in IssueCreateInput) (*models.Issue, error) {
	var data struct {
		IssueCreate struct {
			Success bool       `json:"success"`
			Issue   *wireIssue `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := c.mutate(ctx, "issueCreate", mutationCreateIssue, map[string]any{"input": in}, &data); err != nil {
		return nil, err
	}
	if !data.IssueCreate.Success || data.IssueCreate.Issue == nil {
		return nil, fmt.Errorf("issueCreate: tracker reported failure")
	}
	issue := data.IssueCreate.Issue.model()
	return &issue, nil
}

// UpdateIssue updates the given fields of an issue.
func (c *Client) UpdateIssue(ctx context.Context, id string, in IssueUpdateInput) (*models.Issue, error) {
	var data struct {
		IssueUpdate struct {
			Success bool       `json:"success"`
			Issue   *wireIssue `json:"issue"`
		} `json:"issueUpdate"`
	}
	if err := c.mutate(ctx, "issueUpdate", mutationUpdateIssue, map[string]any{"id": id, "input": in}, &data); err != nil {
		return nil, err
	}
	if !data.IssueUpdate.Success || data.IssueUpdate.Issue == nil {
		return nil, fmt.Errorf("issueUpdate: tracker reported failure")
	}
	issue := data.IssueUpdate.Issue.model()
	return &issue, nil
}

// CreateComment posts a markdown comment on an issue and returns its ID.
func (c *Client) CreateComment(ctx context.Context, issueID, body string) (string, error) {
	var data struct {
		CommentCreate struct {
			Success bool `json:"success"`
			Comment *struct {
				ID string `json:"id"`
			} `json:"comment"`
		} `json:"commentCreate"`
	}
	input := map[string]any{"issueId": issueID, "body": body}
	if err := c.mutate(ctx, "commentCreate", mutationCreateComment, map[string]any{"input": input}, &data); err != nil {
		return "", err
	}
	if !data.CommentCreate.Success || data.CommentCreate.Comment == nil {
		return "", fmt.Errorf("commentCreate: tracker reported failure")
	}
	return data.CommentCreate.Comment.ID, nil
}

// Viewer returns the authenticated user.
func (c *Client) Viewer(ctx context.Context) (*models.User, error) {
	var data struct {
		Viewer *models.User `json:"viewer"`
	}
	if err := c.query(ctx, "viewer", queryViewer, nil, &data); err != nil {
		return nil, err
	}
	return data.Viewer, nil
}

func notFoundAsNil(err error) error {
	if errors.Is(err, terrors.ErrNotFound) {
		return nil
	}
	return err
}
