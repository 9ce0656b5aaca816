package mirror

import (
	"fmt"
	"strings"
	"time"

	"github.com/nfugallo/terna/internal/models"
)

const dateLayout = "2006-01-02"

// ProjectDocument is the front-matter of project.md.
type ProjectDocument struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Status      string           `yaml:"status"`
	LinearURL   string           `yaml:"linear_url"`
	Created     string           `yaml:"created"`
	Target      string           `yaml:"target,omitempty"`
	Description string           `yaml:"description"`
	Content     string           `yaml:"content"`
	Milestones  []MilestoneEntry `yaml:"milestones"`
}

// MilestoneEntry is a milestone as listed in project.md. Completion is not
// tracked by the mirror and is always written as false.
type MilestoneEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Completed   bool   `yaml:"completed"`
}

// IssueDocument is the front-matter of issue.md. Parent is written as an
// explicit null for main issues.
type IssueDocument struct {
	ID          string   `yaml:"id"`
	Identifier  string   `yaml:"identifier"`
	Title       string   `yaml:"title"`
	Status      string   `yaml:"status"`
	Priority    string   `yaml:"priority"`
	Parent      *string  `yaml:"parent"`
	LinearURL   string   `yaml:"linear_url"`
	Labels      []string `yaml:"labels"`
	Assignee    string   `yaml:"assignee,omitempty"`
	Estimate    *float64 `yaml:"estimate,omitempty"`
	Description *string  `yaml:"description,omitempty"`
}

func newProjectDocument(p models.Project, milestones []models.Milestone, now time.Time) ProjectDocument {
	doc := ProjectDocument{
		ID:          p.ID,
		Name:        p.Name,
		Status:      strings.ToLower(p.State),
		LinearURL:   p.URL,
		Created:     now.Format(dateLayout),
		Target:      normalizeDate(p.TargetDate),
		Description: p.Description,
		Content:     p.Content,
		Milestones:  make([]MilestoneEntry, 0, len(milestones)),
	}
	for _, m := range milestones {
		doc.Milestones = append(doc.Milestones, MilestoneEntry{Name: m.Name, Description: m.Description})
	}
	return doc
}

func renderProjectBody(p models.Project, milestones []models.Milestone) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", p.Description)
	}
	if p.Content != "" {
		fmt.Fprintf(&b, "%s\n\n", p.Content)
	}
	if len(milestones) > 0 {
		b.WriteString("## Milestones\n")
		for _, m := range milestones {
			fmt.Fprintf(&b, "- [ ] %s", m.Name)
			if m.Description != "" {
				fmt.Fprintf(&b, " - %s", m.Description)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// StatusSlug lowercases a workflow state name and joins its words with hyphens.
func StatusSlug(state string) string {
	return strings.Join(strings.Fields(strings.ToLower(state)), "-")
}

func newIssueDocument(i models.Issue, parentFolder string) IssueDocument {
	doc := IssueDocument{
		ID:          i.ID,
		Identifier:  i.Identifier,
		Title:       i.Title,
		Status:      StatusSlug(i.State.Name),
		Priority:    i.Priority.String(),
		LinearURL:   i.URL,
		Labels:      i.LabelNames(),
		Estimate:    i.Estimate,
	}
	if i.Description != "" || i.HasDescription {
		desc := i.Description
		doc.Description = &desc
	}
	if parentFolder != "" {
		doc.Parent = &parentFolder
	}
	if i.Assignee != nil {
		doc.Assignee = i.Assignee.Name
	}
	return doc
}

func renderIssueBody(i models.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", i.Title)
	if i.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", i.Description)
		b.WriteString("## Requirements\n")
		for _, line := range strings.Split(i.Description, "\n") {
			trimmed := strings.TrimSpace(line)
			switch {
			case trimmed == "":
				continue
			case strings.HasPrefix(trimmed, "-"), strings.HasPrefix(trimmed, "*"):
				fmt.Fprintf(&b, "%s\n", line)
			default:
				fmt.Fprintf(&b, "- %s\n", line)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Definition of Done\n")
	b.WriteString("- [ ] Implementation complete\n")
	b.WriteString("- [ ] Tests written and passing\n")
	b.WriteString("- [ ] Code reviewed\n")
	for _, l := range i.Labels {
		if strings.Contains(strings.ToLower(l.Name), "doc") {
			b.WriteString("- [ ] Documentation updated\n")
			break
		}
	}
	return b.String()
}

// normalizeDate trims a tracker timestamp down to YYYY-MM-DD.
func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(dateLayout)
	}
	if len(s) >= len(dateLayout) {
		return s[:len(dateLayout)]
	}
	return s
}
