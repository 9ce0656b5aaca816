package tracker

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nfugallo/terna/internal/models"
)

// ProjectCreateInput mirrors Linear's ProjectCreateInput.
type ProjectCreateInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content,omitempty"`
	TargetDate  string   `json:"targetDate,omitempty"`
	TeamIDs     []string `json:"teamIds"`
}

// ProjectUpdateInput mirrors Linear's ProjectUpdateInput. Nil fields are
// left unchanged.
type ProjectUpdateInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Content     *string `json:"content,omitempty"`
	TargetDate  *string `json:"targetDate,omitempty"`
	State       *string `json:"state,omitempty"`
}

// MilestoneCreateInput mirrors Linear's ProjectMilestoneCreateInput.
type MilestoneCreateInput struct {
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TargetDate  string `json:"targetDate,omitempty"`
}

// IssueCreateInput mirrors Linear's IssueCreateInput.
type IssueCreateInput struct {
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	TeamID             string   `json:"teamId"`
	ProjectID          string   `json:"projectId,omitempty"`
	ProjectMilestoneID string   `json:"projectMilestoneId,omitempty"`
	ParentID           string   `json:"parentId,omitempty"`
	StateID            string   `json:"stateId,omitempty"`
	AssigneeID         string   `json:"assigneeId,omitempty"`
	Priority           *int     `json:"priority,omitempty"`
	Estimate           *float64 `json:"estimate,omitempty"`
	LabelIDs           []string `json:"labelIds,omitempty"`
}

// IssueUpdateInput mirrors Linear's IssueUpdateInput. Nil fields are left
// unchanged; a nil LabelIDs keeps the current labels.
type IssueUpdateInput struct {
	Title              *string  `json:"title,omitempty"`
	Description        *string  `json:"description,omitempty"`
	Priority           *int     `json:"priority,omitempty"`
	Estimate           *float64 `json:"estimate,omitempty"`
	LabelIDs           []string `json:"labelIds,omitempty"`
	AssigneeID         *string  `json:"assigneeId,omitempty"`
	StateID            *string  `json:"stateId,omitempty"`
	ProjectMilestoneID *string  `json:"projectMilestoneId,omitempty"`
}

// ProjectFilter narrows a project listing.
type ProjectFilter struct {
	State           string
	TeamID          string
	IncludeArchived bool
}

func (f ProjectFilter) variables() map[string]any {
	vars := map[string]any{"first": pageSize}
	filter := map[string]any{}
	if f.State != "" {
		filter["state"] = map[string]any{"eqIgnoreCase": f.State}
	}
	if f.TeamID != "" {
		filter["accessibleTeams"] = map[string]any{"id": map[string]any{"eq": f.TeamID}}
	}
	if len(filter) > 0 {
		vars["filter"] = filter
	}
	if f.IncludeArchived {
		vars["includeArchived"] = true
	}
	return vars
}

// IssueFilter narrows an issue listing. Query matches title or description
// case-insensitively, and also the issue number when it looks like an
// identifier such as ENG-12.
type IssueFilter struct {
	ProjectID    string
	TeamID       string
	TopLevelOnly bool
	Query        string
}

var identifierPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]*)-(\d+)$`)

func (f IssueFilter) variables() map[string]any {
	filter := map[string]any{}
	if f.ProjectID != "" {
		filter["project"] = map[string]any{"id": map[string]any{"eq": f.ProjectID}}
	}
	if f.TeamID != "" {
		filter["team"] = map[string]any{"id": map[string]any{"eq": f.TeamID}}
	}
	if f.TopLevelOnly {
		filter["parent"] = map[string]any{"null": true}
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		or := []any{
			map[string]any{"title": map[string]any{"containsIgnoreCase": q}},
			map[string]any{"description": map[string]any{"containsIgnoreCase": q}},
		}
		if m := identifierPattern.FindStringSubmatch(q); m != nil {
			n, _ := strconv.Atoi(m[2])
			or = append(or, map[string]any{"and": []any{
				map[string]any{"number": map[string]any{"eq": n}},
				map[string]any{"team": map[string]any{"key": map[string]any{"eqIgnoreCase": m[1]}}},
			}})
		}
		filter["or"] = or
	}

	vars := map[string]any{"first": pageSize}
	if len(filter) > 0 {
		vars["filter"] = filter
	}
	return vars
}

// Wire shapes returned by the API.

type teamNodes struct {
	Nodes []models.Team `json:"nodes"`
}

type wireProject struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	Content           string     `json:"content"`
	State             string     `json:"state"`
	URL               string     `json:"url"`
	TargetDate        string     `json:"targetDate"`
	StartDate         string     `json:"startDate"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	ArchivedAt        *time.Time `json:"archivedAt"`
	Teams             teamNodes  `json:"teams"`
	ProjectMilestones struct {
		Nodes []models.Milestone `json:"nodes"`
	} `json:"projectMilestones"`
}

func (w wireProject) model() models.Project {
	return models.Project{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Content:     w.Content,
		State:       w.State,
		URL:         w.URL,
		TargetDate:  w.TargetDate,
		StartDate:   w.StartDate,
		Teams:       w.Teams.Nodes,
		Milestones:  w.ProjectMilestones.Nodes,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		ArchivedAt:  w.ArchivedAt,
	}
}

type wireIssue struct {
	ID          string                `json:"id"`
	Identifier  string                `json:"identifier"`
	Title       string                `json:"title"`
	Description *string               `json:"description"`
	Priority    int                   `json:"priority"`
	Estimate    *float64              `json:"estimate"`
	URL         string                `json:"url"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
	State       *models.WorkflowState `json:"state"`
	Team        *models.Team          `json:"team"`
	Project     *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
	ProjectMilestone *models.Milestone `json:"projectMilestone"`
	Parent           *models.IssueRef  `json:"parent"`
	Assignee         *models.User      `json:"assignee"`
	Labels           struct {
		Nodes []models.Label `json:"nodes"`
	} `json:"labels"`
}

func (w wireIssue) model() models.Issue {
	issue := models.Issue{
		ID:         w.ID,
		Identifier: w.Identifier,
		Title:      w.Title,
		Priority:   models.Priority(w.Priority),
		Estimate:   w.Estimate,
		URL:        w.URL,
		Team:       w.Team,
		Milestone:  w.ProjectMilestone,
		Parent:     w.Parent,
		Assignee:   w.Assignee,
		Labels:     w.Labels.Nodes,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
	if w.Description != nil {
		issue.Description, issue.HasDescription = *w.Description, true
	}
	if w.State != nil {
		issue.State = *w.State
	}
	if w.Project != nil {
		issue.Project = &models.Project{ID: w.Project.ID, Name: w.Project.Name}
	}
	return issue
}

func issueModels(nodes []wireIssue) []models.Issue {
	out := make([]models.Issue, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.model())
	}
	return out
}
