package main

import (
	"context"
	"fmt"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/nfugallo/terna/internal/agent"
	"github.com/nfugallo/terna/internal/config"
	"github.com/nfugallo/terna/internal/github"
	"github.com/nfugallo/terna/internal/health"
	"github.com/nfugallo/terna/internal/llm"
	"github.com/nfugallo/terna/internal/metrics"
	"github.com/nfugallo/terna/internal/mgmt"
	"github.com/nfugallo/terna/internal/mirror"
	"github.com/nfugallo/terna/internal/store"
	ternasync "github.com/nfugallo/terna/internal/sync"
	"github.com/nfugallo/terna/internal/tool"
	"github.com/nfugallo/terna/internal/tracker"
	"github.com/nfugallo/terna/pkg/tokenstore"
)

// app holds the wired components shared by every subcommand. tracker,
// importer and runtime are nil when their credentials are missing; store
// is nil for commands that do not persist anything.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	metrics    *metrics.Metrics
	store      *store.Store
	tokens     tokenstore.Store
	mirror     *mirror.Store
	tracker    *tracker.Adapter
	connector  *github.Connector
	registry   *tool.Registry
	importer   *ternasync.Importer
	downloader *ternasync.Downloader
	runtime    agent.Runtime
}

func newApp(cfg *config.Config, logger zerolog.Logger, persistent bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		tokens:  tokenstore.NewMemoryStore(),
		mirror:  mirror.New(cfg.TernaRoot, logger),
	}

	if persistent {
		st, err := store.New(cfg.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.store = st
		a.tokens = st.Tokens()
	}

	if err := a.wireGitHub(); err != nil {
		a.close()
		return nil, err
	}

	if cfg.LinearEnabled() {
		client := tracker.NewClient(cfg.LinearAPIURL, &tracker.APIKeyAuth{Key: cfg.LinearAPIKey}, logger)
		client.SetMetrics(a.metrics)
		a.tracker = tracker.NewAdapter(client, a.mirror, cfg.LinearWorkspace, cfg.LinearDefaultTeam, logger)

		a.importer = ternasync.NewImporter(a.tracker, logger)
		a.importer.SetMetrics(a.metrics)
	}
	a.downloader = ternasync.NewDownloader(a.mirror, logger)
	a.downloader.SetMetrics(a.metrics)

	a.registry = tool.NewRegistry()
	a.registry.SetMetrics(a.metrics)
	if a.tracker != nil {
		a.registry.Register(tool.ProjectTools(a.tracker)...)
		a.registry.Register(tool.IssueTools(a.tracker)...)
	}
	a.registry.Register(tool.CommitToFolder(github.NewFolderCommitter(a.connector, logger)))

	if err := a.wireAgents(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wireGitHub() error {
	var fallback github.TokenSource = github.StaticToken(a.cfg.GitHubToken)
	if a.cfg.GitHubAppEnabled() {
		ghApp, err := github.NewApp(a.cfg.GitHubAppID, a.cfg.GitHubInstallationID, a.cfg.GitHubPrivateKeyPath, a.tokens, a.logger)
		if err != nil {
			return fmt.Errorf("github app: %w", err)
		}
		if a.cfg.GitHubAPIURL != "" {
			ghApp.SetAPIURL(a.cfg.GitHubAPIURL)
		}
		fallback = ghApp
	}

	a.connector = github.NewConnector(a.tokens, fallback, a.logger)
	if a.cfg.GitHubAPIURL != "" {
		a.connector.SetAPIURL(a.cfg.GitHubAPIURL)
	}
	a.connector.SetTTL(a.cfg.GitHubTokenTTL)
	return nil
}

func (a *app) wireAgents() error {
	if !a.cfg.LLMEnabled() {
		a.logger.Warn().Msg("ANTHROPIC_API_KEY not set; agent runs are disabled")
		return nil
	}
	if a.tracker == nil {
		a.logger.Warn().Msg("LINEAR_API_KEY not set; agent runs are disabled")
		return nil
	}

	defs := agent.DefaultDefinitions()
	if a.cfg.AgentsFile != "" {
		loaded, err := agent.LoadDefinitions(a.cfg.AgentsFile)
		if err != nil {
			return err
		}
		defs = loaded
	}
	if err := defs.Validate(func(name string) bool {
		_, ok := a.registry.Get(name)
		return ok
	}); err != nil {
		return fmt.Errorf("agent definitions: %w", err)
	}

	provider := llm.NewAnthropicProvider(a.cfg.AnthropicAPIKey,
		llm.WithModel(a.cfg.LLMModel),
		llm.WithMaxTokens(a.cfg.LLMMaxTokens),
		llm.WithMetrics(a.metrics),
		llm.WithLogger(a.logger),
	)
	engine := agent.NewEngine(provider, a.registry, defs, a.cfg.AgentMaxTurns, a.logger)
	engine.SetMetrics(a.metrics)
	if a.store != nil {
		engine.OnDecision(mgmt.AuditDecisions(a.store, a.logger))
	}
	a.runtime = engine

	a.logger.Info().Str("model", provider.ModelID()).Int("tools", len(a.registry.Names())).Msg("agent runtime ready")
	return nil
}

// source reads the terna/ tree of owner/repo at branch.
func (a *app) source(client *gh.Client, owner, repo, branch string) ternasync.Source {
	return github.NewContents(client, owner, repo, branch)
}

// deps assembles the HTTP server dependencies. Nil components are passed
// as untyped nils so the handlers can report them as not configured.
func (a *app) deps() mgmt.Deps {
	checker := health.NewChecker(a.logger)
	checker.Register("database", health.DatabaseCheck(health.PingFunc(a.store.Ping)))
	checker.Register("tracker", health.TrackerCheck(a.tracker != nil))
	checker.Register("mirror", health.MirrorCheck(a.cfg.TernaRoot))

	d := mgmt.Deps{
		Runtime:    a.runtime,
		Downloader: a.downloader,
		Sources: func(token, owner, repo, branch string) (ternasync.Source, error) {
			client, err := a.connector.NewClient(token)
			if err != nil {
				return nil, err
			}
			return a.source(client, owner, repo, branch), nil
		},
		Connector: a.connector,
		Store:     a.store,
		Checker:   checker,
		Metrics:   a.metrics,
	}
	if a.importer != nil {
		d.Importer = a.importer
	}
	return d
}

// maintain prunes old rows and refreshes the store gauges until ctx ends.
func (a *app) maintain(ctx context.Context) {
	retention := time.NewTicker(retentionInterval)
	defer retention.Stop()
	gauges := time.NewTicker(gaugeInterval)
	defer gauges.Stop()

	a.refreshGauges(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-retention.C:
			if _, err := a.store.RunRetention(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("retention failed")
			}
		case <-gauges.C:
			a.refreshGauges(ctx)
		}
	}
}

func (a *app) refreshGauges(ctx context.Context) {
	if n, err := a.tokens.Count(ctx); err == nil {
		a.metrics.SetGitHubTokens(float64(n))
	} else {
		a.logger.Debug().Err(err).Msg("counting tokens")
	}
	if size, err := a.store.SizeBytes(ctx); err == nil {
		a.metrics.SetStoreSize(size)
	}
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing store")
	}
}
