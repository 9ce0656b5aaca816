package tool

import (
	"context"
	"fmt"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/models"
	"github.com/nfugallo/terna/internal/tracker"
)

// Planner is the tracker surface the planning tools use. *tracker.Adapter
// implements it.
type Planner interface {
	Teams(ctx context.Context) ([]models.Team, error)
	GetTeam(ctx context.Context, ref string) (*models.Team, error)
	WorkflowStates(ctx context.Context, teamID string) ([]models.WorkflowState, error)
	Labels(ctx context.Context, teamID string) ([]models.Label, error)

	Projects(ctx context.Context, filter tracker.ProjectFilter) ([]models.Project, error)
	SearchProjects(ctx context.Context, query string) ([]models.Project, error)
	Project(ctx context.Context, ref string) (*models.Project, error)
	CreateProject(ctx context.Context, spec tracker.ProjectSpec) (*models.Project, []models.Milestone, error)
	UpdateProject(ctx context.Context, ref string, in tracker.ProjectUpdateInput) (*models.Project, error)
	ProjectMilestones(ctx context.Context, ref string) ([]models.Milestone, error)
	ProjectIssues(ctx context.Context, ref string) ([]models.Issue, error)

	Issue(ctx context.Context, ref string) (*models.Issue, error)
	SubIssues(ctx context.Context, ref string) ([]models.Issue, error)
	SearchIssues(ctx context.Context, query, teamID string) ([]models.Issue, error)
	CreateIssue(ctx context.Context, in tracker.IssueCreateInput) (*models.Issue, error)
	UpdateIssue(ctx context.Context, ref string, in tracker.IssueUpdateInput) (*models.Issue, error)
}

var _ Planner = (*tracker.Adapter)(nil)

// notFound is the normal answer to a lookup that matched nothing.
type notFound struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Input   string `json:"input,omitempty"`
}

func missing(what, input string) notFound {
	return notFound{Error: what + " not found", Input: input}
}

type projectSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	State       string `json:"state"`
	URL         string `json:"url"`
}

func summarizeProjects(projects []models.Project) []projectSummary {
	out := make([]projectSummary, 0, len(projects))
	for _, p := range projects {
		desc := p.Description
		if desc == "" {
			desc = "No description"
		}
		out = append(out, projectSummary{ID: p.ID, Name: p.Name, Description: desc, State: p.State, URL: p.URL})
	}
	return out
}

type projectListResult struct {
	Success  bool             `json:"success"`
	Projects []projectSummary `json:"projects"`
	Total    int              `json:"totalFound"`
	Message  string           `json:"message,omitempty"`
}

type searchProjectsInput struct {
	Query string `json:"query"`
}

func searchProjects(p Planner) Tool {
	return newTool("search_projects",
		"Search for existing projects by name or keywords. Use this to check for duplicates or find related projects.",
		object(map[string]any{"query": str("Search query to find projects by name or keywords")}, "query"),
		nil,
		func(ctx context.Context, in searchProjectsInput) (any, error) {
			projects, err := p.SearchProjects(ctx, in.Query)
			if err != nil {
				return nil, err
			}
			msg := fmt.Sprintf("No projects found matching %q", in.Query)
			if len(projects) > 0 {
				msg = fmt.Sprintf("Found %d project(s) matching %q", len(projects), in.Query)
			}
			return projectListResult{Success: true, Projects: summarizeProjects(projects), Total: len(projects), Message: msg}, nil
		})
}

type listProjectsInput struct {
	IncludeArchived bool   `json:"includeArchived"`
	State           string `json:"state"`
}

func listAllProjects(p Planner) Tool {
	return newTool("list_all_projects",
		"List all projects in the workspace, optionally filtered by state.",
		object(map[string]any{
			"includeArchived": boolean("Include completed, canceled and archived projects (default: false)"),
			"state": map[string]any{
				"type":        "string",
				"enum":        []string{"planned", "started", "paused", "completed", "canceled", "all"},
				"description": "Filter by project state (default: all)",
			},
		}),
		nil,
		func(ctx context.Context, in listProjectsInput) (any, error) {
			filter := tracker.ProjectFilter{IncludeArchived: in.IncludeArchived}
			if in.State != "" && in.State != "all" {
				filter.State = in.State
			}
			projects, err := p.Projects(ctx, filter)
			if err != nil {
				return nil, err
			}
			if !in.IncludeArchived {
				var kept []models.Project
				for _, pr := range projects {
					if pr.State != models.ProjectCompleted && pr.State != models.ProjectCanceled {
						kept = append(kept, pr)
					}
				}
				projects = kept
			}
			return projectListResult{Success: true, Projects: summarizeProjects(projects), Total: len(projects)}, nil
		})
}

type projectRefInput struct {
	ProjectID string `json:"projectId"`
}

var projectRefSchema = object(map[string]any{
	"projectId": str("The project ID, URL, slug or name"),
}, "projectId")

func getProject(p Planner) Tool {
	return newTool("get_project",
		"Get detailed information about a specific project by ID or URL.",
		projectRefSchema,
		nil,
		func(ctx context.Context, in projectRefInput) (any, error) {
			project, err := p.Project(ctx, in.ProjectID)
			if err != nil {
				return nil, err
			}
			if project == nil {
				return missing("project", in.ProjectID), nil
			}
			return map[string]any{"success": true, "project": project}, nil
		})
}

func getTeams(p Planner) Tool {
	return newTool("get_teams",
		"Get all teams in the workspace to find the correct team for project assignment.",
		object(map[string]any{}),
		nil,
		func(ctx context.Context, _ struct{}) (any, error) {
			teams, err := p.Teams(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "teams": teams}, nil
		})
}

type createProjectInput struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Content     string                  `json:"content"`
	TargetDate  string                  `json:"targetDate"`
	TeamID      string                  `json:"teamId"`
	Milestones  []tracker.MilestoneSpec `json:"milestones"`
}

func createProject(p Planner) Tool {
	return newTool("create_project",
		`Create a new project with milestones. Use "description" for a brief summary (max 255 chars) and "content" for detailed documentation.`,
		object(map[string]any{
			"name":        str("Project name"),
			"description": str("Brief project summary (max 255 characters)"),
			"content":     str("Detailed project documentation in markdown (empty string if none)"),
			"targetDate":  str("Target completion date as YYYY-MM-DD, or empty string"),
			"teamId":      str("Team ID, key or name; the default team is used when empty"),
			"milestones": array(object(map[string]any{
				"name":             str("Milestone name"),
				"definitionOfDone": str("Clear definition of done for the milestone"),
			}, "name", "definitionOfDone"), "Project milestones (provide at least one)"),
		}, "name", "description", "milestones"),
		always[createProjectInput],
		func(ctx context.Context, in createProjectInput) (any, error) {
			project, milestones, err := p.CreateProject(ctx, tracker.ProjectSpec{
				Name:        in.Name,
				Description: in.Description,
				Content:     in.Content,
				TargetDate:  in.TargetDate,
				Team:        in.TeamID,
				Milestones:  in.Milestones,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success":    true,
				"project":    project,
				"milestones": milestones,
				"message":    fmt.Sprintf("Project %q created successfully! View it at: %s", project.Name, project.URL),
			}, nil
		})
}

type updateProjectInput struct {
	ProjectID   string  `json:"projectId"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Content     *string `json:"content"`
	TargetDate  *string `json:"targetDate"`
	State       *string `json:"state"`
}

func updateProject(p Planner) Tool {
	return newTool("update_project",
		`Update an existing project. Use "description" for a brief summary (max 255 chars) and "content" for detailed documentation.`,
		object(map[string]any{
			"projectId":   str("The project ID to update"),
			"name":        str("New project name"),
			"description": str("New brief summary (max 255 characters)"),
			"content":     str("New detailed documentation in markdown"),
			"targetDate":  str("New target date as YYYY-MM-DD"),
			"state":       str("New state: planned, started, paused, completed or canceled"),
		}, "projectId"),
		always[updateProjectInput],
		func(ctx context.Context, in updateProjectInput) (any, error) {
			if in.ProjectID == "" {
				return nil, terrors.Invalid("projectId is required")
			}
			project, err := p.UpdateProject(ctx, in.ProjectID, tracker.ProjectUpdateInput{
				Name:        in.Name,
				Description: in.Description,
				Content:     in.Content,
				TargetDate:  in.TargetDate,
				State:       in.State,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success": true,
				"project": project,
				"message": fmt.Sprintf("Project %q updated successfully! View it at: %s", project.Name, project.URL),
			}, nil
		})
}

// ProjectTools returns the tools of the project planner.
func ProjectTools(p Planner) []Tool {
	return []Tool{
		searchProjects(p),
		listAllProjects(p),
		getProject(p),
		getTeams(p),
		createProject(p),
	}
}
