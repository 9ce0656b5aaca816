package tool

import (
	"context"
	"fmt"
	"strings"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/models"
	"github.com/nfugallo/terna/internal/tracker"
)

type issueSummary struct {
	ID          string               `json:"id"`
	Identifier  string               `json:"identifier"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	State       models.WorkflowState `json:"state"`
	Priority    models.Priority      `json:"priority"`
	Estimate    *float64             `json:"estimate,omitempty"`
	Assignee    *models.User         `json:"assignee,omitempty"`
	URL         string               `json:"url"`
}

func summarizeIssues(issues []models.Issue) []issueSummary {
	out := make([]issueSummary, 0, len(issues))
	for _, i := range issues {
		out = append(out, issueSummary{
			ID:          i.ID,
			Identifier:  i.Identifier,
			Title:       i.Title,
			Description: i.Description,
			State:       i.State,
			Priority:    i.Priority,
			Estimate:    i.Estimate,
			Assignee:    i.Assignee,
			URL:         i.URL,
		})
	}
	return out
}

func getProjectDetails(p Planner) Tool {
	return newTool("get_project_details",
		"Get complete project details including milestones and existing issues, for decomposition.",
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
			milestones, err := p.ProjectMilestones(ctx, project.ID)
			if err != nil {
				return nil, err
			}
			issues, err := p.ProjectIssues(ctx, project.ID)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success":        true,
				"project":        project,
				"milestones":     milestones,
				"existingIssues": summarizeIssues(issues),
			}, nil
		})
}

func listProjectIssues(p Planner) Tool {
	return newTool("list_project_issues",
		"List all main issues in a project (excluding sub-issues).",
		projectRefSchema,
		nil,
		func(ctx context.Context, in projectRefInput) (any, error) {
			issues, err := p.ProjectIssues(ctx, in.ProjectID)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success":    true,
				"issues":     summarizeIssues(issues),
				"totalCount": len(issues),
				"message":    fmt.Sprintf("Found %d main issue(s) in the project", len(issues)),
			}, nil
		})
}

type issueRefInput struct {
	IssueID string `json:"issueId"`
}

var issueRefSchema = object(map[string]any{
	"issueId": str("The issue ID, identifier (e.g. ENG-12) or URL"),
}, "issueId")

func listIssueSubIssues(p Planner) Tool {
	return newTool("list_issue_sub_issues",
		"List all sub-issues of a parent issue.",
		issueRefSchema,
		nil,
		func(ctx context.Context, in issueRefInput) (any, error) {
			subs, err := p.SubIssues(ctx, in.IssueID)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success":    true,
				"subIssues":  summarizeIssues(subs),
				"totalCount": len(subs),
				"message":    fmt.Sprintf("Found %d sub-issue(s) for the parent issue", len(subs)),
			}, nil
		})
}

type teamRefInput struct {
	TeamID string `json:"teamId"`
}

func getTeamInfo(p Planner) Tool {
	return newTool("get_team_info",
		"Get team information including workflow states and labels for issue creation.",
		object(map[string]any{"teamId": str("The team ID, key or name")}, "teamId"),
		nil,
		func(ctx context.Context, in teamRefInput) (any, error) {
			team, err := p.GetTeam(ctx, in.TeamID)
			if err != nil {
				return nil, err
			}
			if team == nil {
				return missing("team", in.TeamID), nil
			}
			states, err := p.WorkflowStates(ctx, team.ID)
			if err != nil {
				return nil, err
			}
			labels, err := p.Labels(ctx, team.ID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "team": team, "workflowStates": states, "labels": labels}, nil
		})
}

type searchTeamInput struct {
	Identifier string `json:"identifier"`
}

func searchTeam(p Planner) Tool {
	return newTool("search_team",
		"Search for a team by name or key to get the team ID.",
		object(map[string]any{"identifier": str("Team name, key, or ID to search for")}, "identifier"),
		nil,
		func(ctx context.Context, in searchTeamInput) (any, error) {
			team, err := p.GetTeam(ctx, in.Identifier)
			if err != nil {
				return nil, err
			}
			if team == nil {
				return missing("team", in.Identifier), nil
			}
			return map[string]any{"success": true, "team": team}, nil
		})
}

// SubIssueInput is one child of a bulk-created issue.
type SubIssueInput struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Estimate           *float64 `json:"estimate"`
	Priority           *int     `json:"priority"`
	AssigneeID         string   `json:"assigneeId"`
	ProjectMilestoneID string   `json:"projectMilestoneId"`
}

// BulkIssueInput is one main issue of a bulk create.
type BulkIssueInput struct {
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	TeamID             string          `json:"teamId"`
	ProjectID          string          `json:"projectId"`
	Priority           *int            `json:"priority"`
	Estimate           *float64        `json:"estimate"`
	Labels             []string        `json:"labels"`
	AssigneeID         string          `json:"assigneeId"`
	StateID            string          `json:"stateId"`
	ProjectMilestoneID string          `json:"projectMilestoneId"`
	SubIssues          []SubIssueInput `json:"subIssues"`
}

type bulkCreateInput struct {
	Issues []BulkIssueInput `json:"issues"`
}

// validateBulk checks the structure of every main issue. Any problem
// rejects the whole batch so nothing is written.
func validateBulk(issues []BulkIssueInput) error {
	if len(issues) == 0 {
		return terrors.Invalid("at least one issue is required")
	}
	var problems []string
	for _, i := range issues {
		if strings.TrimSpace(i.Title) == "" {
			problems = append(problems, "every issue needs a title")
			continue
		}
		if len(i.SubIssues) == 0 {
			problems = append(problems, fmt.Sprintf("issue %q must have at least one sub-issue", i.Title))
		}
		if i.ProjectMilestoneID == "" {
			problems = append(problems, fmt.Sprintf("issue %q must have a projectMilestoneId", i.Title))
		}
		if i.TeamID == "" {
			problems = append(problems, fmt.Sprintf("issue %q must have a teamId", i.Title))
		}
	}
	if len(problems) > 0 {
		return terrors.Invalid("%s", strings.Join(problems, "; "))
	}
	return nil
}

type bulkCreateResult struct {
	Success bool           `json:"success"`
	Created []issueSummary `json:"createdIssues"`
	Errors  []string       `json:"errors,omitempty"`
	Message string         `json:"message"`
}

func bulkCreateIssues(p Planner) Tool {
	subIssue := object(map[string]any{
		"title":              str("Sub-issue title"),
		"description":        str("Sub-issue description in markdown"),
		"estimate":           num("Estimate in points"),
		"priority":           num("Priority (0=none, 1=urgent, 2=high, 3=normal, 4=low)"),
		"assigneeId":         str("Assignee ID"),
		"projectMilestoneId": str("Milestone ID; inherited from the parent when empty"),
	}, "title", "description")

	return newTool("bulk_create_issues",
		"Create issues with sub-issues and milestones. This is the only tool for creating issues. Every main issue needs a milestone and at least one sub-issue.",
		object(map[string]any{
			"issues": array(object(map[string]any{
				"title":              str("Issue title"),
				"description":        str("Issue description in markdown"),
				"teamId":             str("Team ID"),
				"projectId":          str("Project ID"),
				"priority":           num("Priority (0=none, 1=urgent, 2=high, 3=normal, 4=low)"),
				"estimate":           num("Estimate in points"),
				"labels":             array(str("Label ID"), "Label IDs"),
				"assigneeId":         str("Assignee ID"),
				"stateId":            str("Workflow state ID"),
				"projectMilestoneId": str("Project milestone ID, required"),
				"subIssues":          array(subIssue, "Sub-issues to create as children, at least one"),
			}, "title", "description", "teamId", "projectMilestoneId", "subIssues"), "Issues to create"),
		}, "issues"),
		always[bulkCreateInput],
		func(ctx context.Context, in bulkCreateInput) (any, error) {
			if err := validateBulk(in.Issues); err != nil {
				return nil, err
			}

			var created []models.Issue
			var errs []string
			for _, item := range in.Issues {
				main, err := p.CreateIssue(ctx, tracker.IssueCreateInput{
					Title:              item.Title,
					Description:        item.Description,
					TeamID:             item.TeamID,
					ProjectID:          item.ProjectID,
					ProjectMilestoneID: item.ProjectMilestoneID,
					StateID:            item.StateID,
					AssigneeID:         item.AssigneeID,
					Priority:           item.Priority,
					Estimate:           item.Estimate,
					LabelIDs:           item.Labels,
				})
				if err != nil {
					errs = append(errs, fmt.Sprintf("failed to create issue %q: %v", item.Title, err))
					continue
				}
				created = append(created, *main)

				for _, sub := range item.SubIssues {
					milestone := sub.ProjectMilestoneID
					if milestone == "" {
						milestone = item.ProjectMilestoneID
					}
					child, err := p.CreateIssue(ctx, tracker.IssueCreateInput{
						Title:              sub.Title,
						Description:        sub.Description,
						TeamID:             item.TeamID,
						ProjectID:          item.ProjectID,
						ProjectMilestoneID: milestone,
						ParentID:           main.ID,
						StateID:            item.StateID,
						AssigneeID:         sub.AssigneeID,
						Priority:           sub.Priority,
						Estimate:           sub.Estimate,
						LabelIDs:           item.Labels,
					})
					if err != nil {
						errs = append(errs, fmt.Sprintf("failed to create sub-issue %q: %v", sub.Title, err))
						continue
					}
					created = append(created, *child)
				}
			}

			msg := fmt.Sprintf("Successfully created %d issues", len(created))
			if len(errs) > 0 {
				msg += fmt.Sprintf(" with %d errors", len(errs))
			}
			return bulkCreateResult{Success: true, Created: summarizeIssues(created), Errors: errs, Message: msg}, nil
		})
}

func getIssue(p Planner) Tool {
	return newTool("get_issue",
		"Get detailed information about a specific issue.",
		issueRefSchema,
		nil,
		func(ctx context.Context, in issueRefInput) (any, error) {
			issue, err := p.Issue(ctx, in.IssueID)
			if err != nil {
				return nil, err
			}
			if issue == nil {
				return missing("issue", in.IssueID), nil
			}
			return map[string]any{"success": true, "issue": issue}, nil
		})
}

type updateIssueInput struct {
	IssueID     string   `json:"issueId"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Priority    *int     `json:"priority"`
	Estimate    *float64 `json:"estimate"`
	Labels      []string `json:"labels"`
	AssigneeID  *string  `json:"assigneeId"`
	StateID     *string  `json:"stateId"`
}

// raisesToHighPriority gates updates that set urgent or high priority.
func raisesToHighPriority(in updateIssueInput) bool {
	if in.Priority == nil {
		return false
	}
	pr := models.Priority(*in.Priority)
	return pr == models.PriorityUrgent || pr == models.PriorityHigh
}

func updateIssue(p Planner) Tool {
	return newTool("update_issue",
		"Update an existing issue.",
		object(map[string]any{
			"issueId":     str("The issue ID to update"),
			"title":       str("New issue title"),
			"description": str("New issue description in markdown"),
			"priority":    num("New priority (0=none, 1=urgent, 2=high, 3=normal, 4=low)"),
			"estimate":    num("New estimate in points (1=XS, 2=S, 3=M, 5=L, 8=XL, 13=XXL, 21=XXXL)"),
			"labels":      array(str("Label ID"), "Label IDs to assign"),
			"assigneeId":  str("User ID to assign the issue to"),
			"stateId":     str("Workflow state ID"),
		}, "issueId"),
		raisesToHighPriority,
		func(ctx context.Context, in updateIssueInput) (any, error) {
			if in.IssueID == "" {
				return nil, terrors.Invalid("issueId is required")
			}
			issue, err := p.UpdateIssue(ctx, in.IssueID, tracker.IssueUpdateInput{
				Title:       in.Title,
				Description: in.Description,
				Priority:    in.Priority,
				Estimate:    in.Estimate,
				LabelIDs:    in.Labels,
				AssigneeID:  in.AssigneeID,
				StateID:     in.StateID,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success": true,
				"issue":   issue,
				"message": fmt.Sprintf("Issue %q (%s) updated successfully! View it at: %s", issue.Title, issue.Identifier, issue.URL),
			}, nil
		})
}

type searchIssuesInput struct {
	Query  string `json:"query"`
	TeamID string `json:"teamId"`
}

func searchIssues(p Planner) Tool {
	return newTool("search_issues",
		"Search for issues by title, description or identifier.",
		object(map[string]any{
			"query":  str("Search query to find issues"),
			"teamId": str("Optional team ID to filter by"),
		}, "query"),
		nil,
		func(ctx context.Context, in searchIssuesInput) (any, error) {
			issues, err := p.SearchIssues(ctx, in.Query, in.TeamID)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success": true,
				"issues":  summarizeIssues(issues),
				"message": fmt.Sprintf("Found %d issues matching %q", len(issues), in.Query),
			}, nil
		})
}

// IssueTools returns the tools of the issue planner.
func IssueTools(p Planner) []Tool {
	return []Tool{
		getProjectDetails(p),
		listProjectIssues(p),
		listIssueSubIssues(p),
		getTeamInfo(p),
		bulkCreateIssues(p),
		searchTeam(p),
		updateProject(p),
		getIssue(p),
		updateIssue(p),
		searchIssues(p),
	}
}
