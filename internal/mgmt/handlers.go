package mgmt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nfugallo/terna/internal/agent"
	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/github"
	"github.com/nfugallo/terna/internal/requestid"
	"github.com/nfugallo/terna/internal/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	deps      Deps
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, logger zerolog.Logger) *Handlers {
	return &Handlers{
		deps:      deps,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

func unavailable(c *fiber.Ctx, what string) error {
	return problemResponse(c, fiber.StatusServiceUnavailable,
		"not_configured", "Service Unavailable", what+" is not configured")
}

// Health handles GET /health.
func (h *Handlers) Health(c *fiber.Ctx) error {
	if h.deps.Checker == nil {
		return c.JSON(fiber.Map{"status": "ok", "uptime": time.Since(h.startTime).String()})
	}
	report := h.deps.Checker.Report(c.UserContext())
	status := fiber.StatusOK
	if !report.Ready() {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"status": report.Status,
		"checks": report.Checks,
		"uptime": time.Since(h.startTime).String(),
	})
}

// RunAgent handles POST /api/v1/agents. The response is a server-sent event
// stream of agent events, then one complete (or error) event, then [DONE].
func (h *Handlers) RunAgent(c *fiber.Ctx) error {
	if h.deps.Runtime == nil {
		return unavailable(c, "agent runtime")
	}

	var req AgentRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.Message) == "" && req.State == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_message", "Bad Request",
			"message or state is required")
	}
	if req.State != "" {
		if _, err := agent.DecodeRunState(req.State); err != nil {
			return problemFromError(c, err)
		}
	}

	// The stream outlives the handler, so the run gets its own context.
	ctx := requestid.WithRequestID(context.Background(), requestid.Of(c))
	if sid := c.Get(SessionHeader); sid != "" {
		ctx = github.WithSession(ctx, sid)
	}
	logger := requestid.Logger(ctx, h.logger)
	in := agent.Input{Message: req.Message, State: req.State, Decisions: req.Approvals}
	runtime := h.deps.Runtime

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		send := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				logger.Error().Err(err).Msg("encoding stream event")
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			if err := w.Flush(); err != nil {
				logger.Debug().Err(err).Msg("client went away")
			}
		}

		res, err := runtime.Run(ctx, in, func(ev agent.Event) { send(ev) })
		if err != nil {
			logger.Error().Err(err).Msg("agent run failed")
			send(ErrorEvent{Type: "error", Error: err.Error()})
		} else {
			send(CompleteEvent{Type: "complete", Result: res})
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		_ = w.Flush()
	})
	return nil
}

// GitHubSync handles POST /api/v1/github-sync.
func (h *Handlers) GitHubSync(c *fiber.Ctx) error {
	var req SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Owner == "" || req.Repo == "" || req.GitHubToken == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"Missing required fields: owner, repo, githubToken")
	}
	if req.Branch == "" {
		req.Branch = "main"
	}
	if req.Action == "" {
		req.Action = ActionImport
	}
	if req.Action != ActionImport && req.Action != ActionDownload {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_action", "Bad Request",
			"Unknown action: "+req.Action)
	}

	if h.deps.Sources == nil {
		return unavailable(c, "GitHub access")
	}
	if req.Action == ActionImport && h.deps.Importer == nil {
		return unavailable(c, "tracker")
	}
	if req.Action == ActionDownload && h.deps.Downloader == nil {
		return unavailable(c, "local mirror")
	}

	src, err := h.deps.Sources(req.GitHubToken, req.Owner, req.Repo, req.Branch)
	if err != nil {
		return problemFromError(c, err)
	}

	ctx := c.UserContext()
	run := &store.SyncRun{
		ID:        uuid.NewString(),
		Action:    req.Action,
		Owner:     req.Owner,
		Repo:      req.Repo,
		Branch:    req.Branch,
		StartedAt: time.Now(),
	}
	logger := requestid.Logger(ctx, h.logger).With().
		Str("run_id", run.ID).Str("action", run.Action).
		Str("repo", req.Owner+"/"+req.Repo).Str("branch", req.Branch).Logger()
	logger.Info().Msg("sync started")

	if req.Action == ActionDownload {
		res, err := h.deps.Downloader.Download(ctx, src)
		if res != nil {
			run.ProjectsCreated = res.Projects
			run.IssuesCreated = res.Issues
			run.Errors = res.Errors
		}
		h.finishRun(ctx, logger, run, err)
		if err != nil {
			return problemFromError(c, err)
		}
		return c.JSON(DownloadResponse{
			Success: true,
			Message: fmt.Sprintf("Synced %d projects and %d issues from %s/%s@%s",
				res.Projects, res.Issues, req.Owner, req.Repo, req.Branch),
			Errors: res.Errors,
		})
	}

	res, err := h.deps.Importer.Import(ctx, src)
	if res != nil {
		run.ProjectsCreated = res.ProjectsCreated
		run.ProjectsExisting = res.ProjectsExisting
		run.IssuesCreated = res.IssuesCreated
		run.IssuesExisting = res.IssuesExisting
		run.Errors = res.Errors
	}
	h.finishRun(ctx, logger, run, err)
	if err != nil {
		return problemFromError(c, err)
	}
	return c.JSON(ImportResponse{
		Success:          true,
		ProjectsCreated:  res.ProjectsCreated,
		ProjectsExisting: res.ProjectsExisting,
		IssuesCreated:    res.IssuesCreated,
		IssuesExisting:   res.IssuesExisting,
		Errors:           res.Errors,
	})
}

// finishRun records a sync run. A run succeeds when it returned no error
// and recorded no per-entity errors.
func (h *Handlers) finishRun(ctx context.Context, logger zerolog.Logger, run *store.SyncRun, runErr error) {
	run.FinishedAt = time.Now()
	if runErr != nil {
		run.Errors = append(run.Errors, runErr.Error())
	}
	run.Success = runErr == nil && len(run.Errors) == 0

	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordSyncRun(run.Action, runErr)
	}
	logger.Info().
		Bool("success", run.Success).
		Int("errors", len(run.Errors)).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("sync finished")

	if h.deps.Store == nil {
		return
	}
	if err := h.deps.Store.SaveSyncRun(ctx, run); err != nil {
		logger.Warn().Err(err).Msg("recording sync run failed")
	}
}

// ListSyncRuns handles GET /api/v1/sync/runs.
func (h *Handlers) ListSyncRuns(c *fiber.Ctx) error {
	if h.deps.Store == nil {
		return unavailable(c, "store")
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 200 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_limit", "Bad Request",
			"limit must be between 1 and 200")
	}
	runs, err := h.deps.Store.ListSyncRuns(c.UserContext(), limit)
	if err != nil {
		return problemFromError(c, err)
	}
	if runs == nil {
		runs = []*store.SyncRun{}
	}
	return c.JSON(SyncRunsResponse{Runs: runs})
}

func sessionOf(c *fiber.Ctx) (string, error) {
	sid := strings.TrimSpace(c.Get(SessionHeader))
	if sid == "" {
		return "", terrors.Invalid("%s header is required", SessionHeader)
	}
	return sid, nil
}

// ConnectGitHub handles POST /api/v1/github/token.
func (h *Handlers) ConnectGitHub(c *fiber.Ctx) error {
	if h.deps.Connector == nil {
		return unavailable(c, "GitHub access")
	}
	sid, err := sessionOf(c)
	if err != nil {
		return problemFromError(c, err)
	}
	var req TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	v, err := h.deps.Connector.Connect(c.UserContext(), sid, req.Token)
	if err != nil {
		return problemFromError(c, err)
	}
	if !v.Valid {
		return c.Status(fiber.StatusBadRequest).JSON(v)
	}
	return c.JSON(v)
}

// DisconnectGitHub handles DELETE /api/v1/github/token.
func (h *Handlers) DisconnectGitHub(c *fiber.Ctx) error {
	if h.deps.Connector == nil {
		return unavailable(c, "GitHub access")
	}
	sid, err := sessionOf(c)
	if err != nil {
		return problemFromError(c, err)
	}
	if err := h.deps.Connector.Disconnect(c.UserContext(), sid); err != nil {
		return problemFromError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ValidateGitHub handles GET /api/v1/github/validate: it validates the
// credential the commit tool would use for the caller's session.
func (h *Handlers) ValidateGitHub(c *fiber.Ctx) error {
	if h.deps.Connector == nil {
		return unavailable(c, "GitHub access")
	}
	ctx := c.UserContext()
	if sid := c.Get(SessionHeader); sid != "" {
		ctx = github.WithSession(ctx, sid)
	}
	client, err := h.deps.Connector.ClientFor(ctx)
	if err != nil {
		return c.JSON(github.TokenValidation{Error: err.Error()})
	}
	return c.JSON(github.ValidateToken(ctx, client))
}

// AuditDecisions returns an agent.DecisionHook that records every decision
// in s. Failures are logged.
func AuditDecisions(s RunStore, logger zerolog.Logger) agent.DecisionHook {
	logger = logger.With().Str("component", "approvals").Logger()
	return func(ctx context.Context, runID string, in agent.Interruption, approved bool) {
		args := string(in.Arguments)
		err := s.SaveApproval(ctx, &store.ApprovalDecision{
			RunID:          runID,
			InterruptionID: in.ID,
			Agent:          in.Agent,
			Tool:           in.Tool,
			Arguments:      args,
			Approved:       approved,
		})
		if err != nil {
			l := requestid.Logger(ctx, logger)
			l.Warn().Err(err).Str("run_id", runID).Str("tool", in.Tool).Msg("recording approval failed")
		}
	}
}
