package agent

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition describes one agent: its instructions, the tools it may call
// and the agents it may hand the conversation to.
type Definition struct {
	Name         string   `yaml:"name"`
	Instructions string   `yaml:"instructions"`
	Model        string   `yaml:"model"`
	Tools        []string `yaml:"tools"`
	Handoffs     []string `yaml:"handoffs"`
}

// Definitions is the set of agents a runtime serves. Entry names the agent
// that receives new conversations.
type Definitions struct {
	Entry  string       `yaml:"entry"`
	Agents []Definition `yaml:"agents"`
}

// Agent names used by DefaultDefinitions.
const (
	TriageAgent         = "Triage Agent"
	ProjectPlannerAgent = "Project Planner"
	IssuePlannerAgent   = "Issue Planner"
)

// DefaultDefinitions returns the triage agent with its two planners.
func DefaultDefinitions() Definitions {
	return Definitions{
		Entry: TriageAgent,
		Agents: []Definition{
			{
				Name: TriageAgent,
				Instructions: `You are a triage agent that directs the user to the right specialist.
- If the user wants to plan a project, create project structure, or discuss scope and milestones, hand off to the Project Planner.
- If the user wants to create or update issues, break work down, or write code for an issue, hand off to the Issue Planner.
- If the request is unclear, ask a clarifying question.`,
				Handoffs: []string{ProjectPlannerAgent, IssuePlannerAgent},
			},
			{
				Name: ProjectPlannerAgent,
				Instructions: `You plan projects in the tracker. Search for duplicates before creating anything.
Keep the description under 255 characters and put detail in the content field.
Every project needs at least one milestone with a clear definition of done.`,
				Tools:    []string{"search_projects", "list_all_projects", "get_project", "get_teams", "create_project"},
				Handoffs: []string{IssuePlannerAgent},
			},
			{
				Name: IssuePlannerAgent,
				Instructions: `You decompose projects into issues. Read the project details and its milestones first.
Create issues only with bulk_create_issues. Every main issue needs a milestone and at least one sub-issue.
When asked to write code, use commit_to_folder and keep every file inside the allowed folder.`,
				Tools: []string{
					"get_project_details", "list_project_issues", "list_issue_sub_issues", "get_team_info",
					"bulk_create_issues", "search_team", "update_project", "get_issue", "update_issue",
					"search_issues", "commit_to_folder",
				},
				Handoffs: []string{ProjectPlannerAgent},
			},
		},
	}
}

// Get returns the definition named name.
func (d Definitions) Get(name string) (Definition, bool) {
	for _, a := range d.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return Definition{}, false
}

// Validate checks that names are unique, that the entry agent and every
// handoff target exist, and that every tool is known to hasTool.
func (d Definitions) Validate(hasTool func(name string) bool) error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("agents: no agents defined")
	}
	seen := make(map[string]bool, len(d.Agents))
	for _, a := range d.Agents {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("agents: agent without a name")
		}
		if seen[a.Name] {
			return fmt.Errorf("agents: duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
	}
	if !seen[d.Entry] {
		return fmt.Errorf("agents: entry agent %q is not defined", d.Entry)
	}
	for _, a := range d.Agents {
		for _, h := range a.Handoffs {
			if !seen[h] {
				return fmt.Errorf("agents: %q hands off to unknown agent %q", a.Name, h)
			}
		}
		if hasTool == nil {
			continue
		}
		for _, t := range a.Tools {
			if !hasTool(t) {
				return fmt.Errorf("agents: %q uses unknown tool %q", a.Name, t)
			}
		}
	}
	return nil
}

// LoadDefinitions reads agent definitions from a YAML file. ${VAR} and $VAR
// references are replaced with environment values before parsing.
func LoadDefinitions(path string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("agents: read %s: %w", path, err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions parses agent definitions from YAML bytes.
func ParseDefinitions(data []byte) (Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &defs); err != nil {
		return Definitions{}, fmt.Errorf("agents: parse: %w", err)
	}
	if defs.Entry == "" && len(defs.Agents) > 0 {
		defs.Entry = defs.Agents[0].Name
	}
	return defs, nil
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value. Missing
// variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// HandoffTool is the name of the synthetic tool that transfers the
// conversation to agent.
func HandoffTool(agent string) string {
	return "transfer_to_" + strings.Trim(nonWord.ReplaceAllString(strings.ToLower(agent), "_"), "_")
}
