// Package mgmt serves terna's HTTP API: the agent chat stream, folder sync
// runs, GitHub account connection, health and metrics.
package mgmt

import (
	"github.com/nfugallo/terna/internal/agent"
	"github.com/nfugallo/terna/internal/store"
)

// ProblemDetail is an RFC 7807 problem response.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// AgentRequest is the body of POST /api/v1/agents. Either Message starts a
// run, or State and Approvals resume one.
type AgentRequest struct {
	Message   string           `json:"message"`
	State     string           `json:"state"`
	Approvals []agent.Decision `json:"approvals"`
}

// CompleteEvent is the last data event of an agent stream.
type CompleteEvent struct {
	Type string `json:"type"`
	*agent.Result
}

// ErrorEvent ends an agent stream that failed after streaming began.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// SyncRequest is the body of POST /api/v1/github-sync.
type SyncRequest struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	Branch      string `json:"branch"`
	GitHubToken string `json:"githubToken"`
	Action      string `json:"action"`
}

// Sync actions.
const (
	ActionImport   = "import"
	ActionDownload = "download"
)

// ImportResponse answers an import run.
type ImportResponse struct {
	Success          bool     `json:"success"`
	ProjectsCreated  int      `json:"projectsCreated"`
	ProjectsExisting int      `json:"projectsExisting"`
	IssuesCreated    int      `json:"issuesCreated"`
	IssuesExisting   int      `json:"issuesExisting"`
	Errors           []string `json:"errors"`
}

// DownloadResponse answers a download run.
type DownloadResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// SyncRunsResponse lists recorded sync runs.
type SyncRunsResponse struct {
	Runs []*store.SyncRun `json:"runs"`
}

// TokenRequest is the body of POST /api/v1/github/token.
type TokenRequest struct {
	Token string `json:"token"`
}
