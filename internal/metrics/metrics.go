// Package metrics provides Prometheus metrics for terna.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	terrors "github.com/nfugallo/terna/internal/errors"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	TrackerRequestsTotal   *prometheus.CounterVec
	TrackerRequestDuration *prometheus.HistogramVec
	ToolExecutionsTotal    *prometheus.CounterVec
	LLMRequestsTotal       *prometheus.CounterVec
	LLMTokensTotal         *prometheus.CounterVec
	ApprovalsTotal         *prometheus.CounterVec
	SyncRunsTotal          *prometheus.CounterVec
	SyncEntitiesTotal      *prometheus.CounterVec
	GitHubTokensActive     prometheus.Gauge
	StoreSizeBytes         prometheus.Gauge
	ErrorsTotal            *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terna_http_requests_total",
				Help: "Total HTTP API requests by route and status code.",
			},
			[]string{"route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "terna_http_request_duration_seconds",
				Help:    "HTTP API request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		TrackerRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terna_tracker_requests_total",
				Help: "Total tracker GraphQL requests by operation and result.",
			},
			[]string{"operation", "result"},
		),
		TrackerRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "terna_tracker_request_duration_seconds",
				Help:    "Tracker GraphQL request duration by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terna_tool_executions_total",
				Help: "Total agent tool executions by tool and result.",
			},
			[]string{"tool", "result"},
		),
		LLMRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terna_llm_requests_total",
				Help: "Total model completions by model and result.",
			},
			[]string{"model", "result"},
		),
		LLMTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terna_llm_tokens_total",
				Help: "Model tokens consumed by model and direction.",
			},
			[]string{"model", "direction"},
		),
		ApprovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terna_approvals_total",
				Help: "Total approval decisions by tool and result.",
			},
			[]string{"tool", "result"},
		),
		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terna_sync_runs_total",
				Help: "Total folder sync runs by action and result.",
			},
			[]string{"action", "result"},
		),
		SyncEntitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terna_sync_entities_total",
				Help: "Entities processed by the import, by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		GitHubTokensActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "terna_github_tokens_active",
				Help: "Number of stored GitHub session tokens.",
			},
		),
		StoreSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "terna_store_size_bytes",
				Help: "Size of the SQLite database.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terna_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TrackerRequestsTotal,
		m.TrackerRequestDuration,
		m.ToolExecutionsTotal,
		m.LLMRequestsTotal,
		m.LLMTokensTotal,
		m.ApprovalsTotal,
		m.SyncRunsTotal,
		m.SyncEntitiesTotal,
		m.GitHubTokensActive,
		m.StoreSizeBytes,
		m.ErrorsTotal,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTP records one served HTTP request.
func (m *Metrics) RecordHTTP(route, status string, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordTrackerRequest records one tracker request and its outcome.
func (m *Metrics) RecordTrackerRequest(op string, err error, d time.Duration) {
	m.TrackerRequestsTotal.WithLabelValues(op, resultOf(err)).Inc()
	m.TrackerRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordTool increments the tool execution counter.
func (m *Metrics) RecordTool(tool string, err error) {
	m.ToolExecutionsTotal.WithLabelValues(tool, resultOf(err)).Inc()
}

// RecordApproval increments the approval counter.
func (m *Metrics) RecordApproval(tool string, approved bool) {
	result := "rejected"
	if approved {
		result = "approved"
	}
	m.ApprovalsTotal.WithLabelValues(tool, result).Inc()
}

// RecordSyncRun increments the sync run counter.
func (m *Metrics) RecordSyncRun(action string, err error) {
	m.SyncRunsTotal.WithLabelValues(action, resultOf(err)).Inc()
}

// RecordSyncEntity counts one imported entity, e.g. ("issue", "created").
func (m *Metrics) RecordSyncEntity(kind, outcome string) {
	m.SyncEntitiesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// SetGitHubTokens sets the stored token count.
func (m *Metrics) SetGitHubTokens(count float64) {
	m.GitHubTokensActive.Set(count)
}

// RecordLLM records one model completion and its token usage.
func (m *Metrics) RecordLLM(model string, err error, inputTokens, outputTokens int) {
	m.LLMRequestsTotal.WithLabelValues(model, resultOf(err)).Inc()
	m.LLMTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.LLMTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
}

// SetStoreSize sets the database size gauge.
func (m *Metrics) SetStoreSize(bytes int64) {
	m.StoreSizeBytes.Set(float64(bytes))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, terrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, terrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, terrors.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, terrors.ErrInvalidInput), errors.Is(err, terrors.ErrSecurityViolation):
		return "invalid"
	default:
		return "error"
	}
}
