package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/nfugallo/terna/internal/agent"
	"github.com/nfugallo/terna/internal/github"
	"github.com/nfugallo/terna/internal/health"
	"github.com/nfugallo/terna/internal/metrics"
	"github.com/nfugallo/terna/internal/requestid"
	"github.com/nfugallo/terna/internal/store"
	"github.com/nfugallo/terna/internal/sync"
)

// SessionHeader carries the chat session id that GitHub tokens are keyed by.
const SessionHeader = "X-Session-ID"

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// Importer runs the repository → tracker import.
type Importer interface {
	Import(ctx context.Context, src sync.Source) (*sync.ImportResult, error)
}

// Downloader runs the repository → local mirror download.
type Downloader interface {
	Download(ctx context.Context, src sync.Source) (*sync.DownloadResult, error)
}

// Connector manages per-session GitHub credentials. *github.Connector
// implements it.
type Connector interface {
	Connect(ctx context.Context, sessionID, token string) (github.TokenValidation, error)
	Disconnect(ctx context.Context, sessionID string) error
	ClientFor(ctx context.Context) (*gh.Client, error)
}

var _ Connector = (*github.Connector)(nil)

// SourceFactory opens the terna/ tree of a repository at branch.
type SourceFactory func(token, owner, repo, branch string) (sync.Source, error)

// RunStore records sync runs and approval decisions. *store.Store
// implements it.
type RunStore interface {
	SaveSyncRun(ctx context.Context, r *store.SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]*store.SyncRun, error)
	SaveApproval(ctx context.Context, a *store.ApprovalDecision) error
}

var _ RunStore = (*store.Store)(nil)

// Deps are the collaborators behind the routes. A nil Runtime, Importer or
// Connector disables the routes that need it with 503.
type Deps struct {
	Runtime    agent.Runtime
	Importer   Importer
	Downloader Downloader
	Sources    SourceFactory
	Connector  Connector
	Store      RunStore
	Checker    *health.Checker
	Metrics    *metrics.Metrics
}

// Server is the HTTP API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures a new API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:      app,
		handlers: NewHandlers(deps, logger),
		logger:   logger.With().Str("component", "http").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, deps.Metrics)
	s.setupRoutes(deps.Metrics)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Session-ID",
			AllowMethods: "GET, POST, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, s.logger))

	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Path()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		if m != nil {
			route := path
			if r := c.Route(); r != nil && r.Path != "" {
				route = r.Path
			}
			m.RecordHTTP(route, strconv.Itoa(status), time.Since(start))
		}
		if !isProbe(path) {
			s.logger.Info().
				Str("method", c.Method()).
				Str("path", path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("request_id", requestid.Of(c)).
				Msg("api request")
		}
		return err
	})
}

func (s *Server) setupRoutes(m *metrics.Metrics) {
	h := s.handlers

	s.app.Get("/health", h.Health)

	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	v1 := s.app.Group("/api/v1")

	v1.Post("/agents", h.RunAgent)

	v1.Post("/github-sync", h.GitHubSync)
	v1.Get("/sync/runs", h.ListSyncRuns)

	v1.Post("/github/token", h.ConnectGitHub)
	v1.Delete("/github/token", h.DisconnectGitHub)
	v1.Get("/github/validate", h.ValidateGitHub)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "http_error",
			Title:    utils.StatusMessage(code),
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
