// Package models holds the planning entities shared by the tracker adapter,
// the folder mirror and the sync engine.
package models

import (
	"strings"
	"time"
)

// Priority is the tracker's ordinal priority scale.
type Priority int

const (
	PriorityNone   Priority = 0
	PriorityUrgent Priority = 1
	PriorityHigh   Priority = 2
	PriorityNormal Priority = 3
	PriorityLow    Priority = 4
)

// String returns the mirror word for p. Out-of-range values read as "normal".
func (p Priority) String() string {
	switch p {
	case PriorityNone:
		return "none"
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority maps a priority word back to the ordinal scale.
// Unknown words map to PriorityNormal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return PriorityNone
	case "urgent":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Project states accepted by the tracker.
const (
	ProjectBacklog   = "backlog"
	ProjectPlanned   = "planned"
	ProjectStarted   = "started"
	ProjectPaused    = "paused"
	ProjectCompleted = "completed"
	ProjectCanceled  = "canceled"
)

// MaxProjectDescription is the tracker's limit on a project's short description.
const MaxProjectDescription = 255

type Team struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

type WorkflowState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Milestone belongs to exactly one project.
type Milestone struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TargetDate  string `json:"targetDate,omitempty"`
}

type Project struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Content     string      `json:"content,omitempty"`
	State       string      `json:"state"`
	URL         string      `json:"url"`
	TargetDate  string      `json:"targetDate,omitempty"`
	StartDate   string      `json:"startDate,omitempty"`
	Teams       []Team      `json:"teams,omitempty"`
	Milestones  []Milestone `json:"milestones,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	ArchivedAt  *time.Time  `json:"archivedAt,omitempty"`
}

// PrimaryTeam returns the project's first team, if any.
func (p Project) PrimaryTeam() (Team, bool) {
	if len(p.Teams) == 0 {
		return Team{}, false
	}
	return p.Teams[0], true
}

// IssueRef is a lightweight pointer to another issue.
type IssueRef struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
}

type Issue struct {
	ID             string        `json:"id"`
	Identifier     string        `json:"identifier"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	HasDescription bool          `json:"-"` // the tracker returned a description, possibly empty
	State          WorkflowState `json:"state"`
	Priority       Priority      `json:"priority"`
	Estimate       *float64      `json:"estimate,omitempty"`
	URL            string        `json:"url"`
	Parent         *IssueRef     `json:"parent,omitempty"`
	Project        *Project      `json:"project,omitempty"`
	Milestone      *Milestone    `json:"projectMilestone,omitempty"`
	Team           *Team         `json:"team,omitempty"`
	Assignee       *User         `json:"assignee,omitempty"`
	Labels         []Label       `json:"labels,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// LabelNames returns the issue's label names in order.
func (i Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}
