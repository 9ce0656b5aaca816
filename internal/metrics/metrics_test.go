package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/nfugallo/terna/internal/errors"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.TrackerRequestsTotal)
	assert.NotNil(t, m.ToolExecutionsTotal)
	assert.NotNil(t, m.ApprovalsTotal)
	assert.NotNil(t, m.SyncRunsTotal)
	assert.NotNil(t, m.GitHubTokensActive)
	assert.NotNil(t, m.ErrorsTotal)
}

func TestMetrics_RecordTrackerRequest(t *testing.T) {
	m := New()
	m.RecordTrackerRequest("issueCreate", nil, 10*time.Millisecond)
	m.RecordTrackerRequest("issueCreate", nil, 20*time.Millisecond)
	m.RecordTrackerRequest("projects", fmt.Errorf("wrapped: %w", terrors.ErrRateLimited), time.Millisecond)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `terna_tracker_requests_total{operation="issueCreate",result="ok"} 2`)
	assert.Contains(t, body, `terna_tracker_requests_total{operation="projects",result="rate_limited"} 1`)
	assert.Contains(t, body, "terna_tracker_request_duration_seconds")
}

func TestMetrics_RecordTool(t *testing.T) {
	m := New()
	m.RecordTool("create_project", nil)
	m.RecordTool("commit_to_folder", terrors.ErrSecurityViolation)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `terna_tool_executions_total{result="ok",tool="create_project"} 1`)
	assert.Contains(t, body, `terna_tool_executions_total{result="invalid",tool="commit_to_folder"} 1`)
}

func TestMetrics_RecordApproval(t *testing.T) {
	m := New()
	m.RecordApproval("commit_to_folder", true)
	m.RecordApproval("commit_to_folder", false)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `terna_approvals_total{result="approved",tool="commit_to_folder"} 1`)
	assert.Contains(t, body, `terna_approvals_total{result="rejected",tool="commit_to_folder"} 1`)
}

func TestMetrics_RecordSync(t *testing.T) {
	m := New()
	m.RecordSyncRun("import", nil)
	m.RecordSyncEntity("issue", "created")
	m.RecordSyncEntity("issue", "created")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `terna_sync_runs_total{action="import",result="ok"} 1`)
	assert.Contains(t, body, `terna_sync_entities_total{kind="issue",outcome="created"} 2`)
}

func TestMetrics_RecordHTTP(t *testing.T) {
	m := New()
	m.RecordHTTP("/api/v1/github-sync", "400", 5*time.Millisecond)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `terna_http_requests_total{route="/api/v1/github-sync",status="400"} 1`)
}

func TestMetrics_SetGitHubTokens(t *testing.T) {
	m := New()
	m.SetGitHubTokens(3)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "terna_github_tokens_active 3")
}

func TestMetrics_SetStoreSize(t *testing.T) {
	m := New()
	m.SetStoreSize(4096)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "terna_store_size_bytes 4096")
}

func TestMetrics_RecordError(t *testing.T) {
	m := New()
	m.RecordError("mirror", "write_failed")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `terna_errors_total{module="mirror",type="write_failed"} 1`)
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	return strings.TrimSpace(string(body))
}
