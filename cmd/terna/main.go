// Terna: planning agents over a Linear workspace with a git-friendly mirror.
//
// Usage:
//
//	terna serve                          # HTTP API (default)
//	terna mcp                            # MCP server over stdio
//	terna import <owner/repo> [branch]   # repository terna/ tree -> Linear
//	terna download <owner/repo> [branch] # repository terna/ tree -> local mirror
//	terna comment <ISSUE-ID>             # post the latest attempt report
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nfugallo/terna/internal/config"
	"github.com/nfugallo/terna/internal/mcpserver"
	"github.com/nfugallo/terna/internal/mgmt"
	"github.com/nfugallo/terna/internal/store"
	ternasync "github.com/nfugallo/terna/internal/sync"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout   = 15 * time.Second
	retentionInterval = time.Hour
	gaugeInterval     = time.Minute
)

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = withConfig(os.Stdout, serve)
	case "mcp":
		// stdout carries the protocol, so logs go to stderr.
		err = withConfig(os.Stderr, serveMCP)
	case "import", "download":
		err = withConfig(os.Stderr, func(cfg *config.Config, logger zerolog.Logger) error {
			return syncRepo(cfg, logger, cmd, args)
		})
	case "comment":
		err = withConfig(os.Stderr, func(cfg *config.Config, logger zerolog.Logger) error {
			return postAttempt(cfg, logger, args)
		})
	case "--help", "-h", "help":
		printUsage()
	case "--version", "-v", "version":
		fmt.Printf("terna %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: terna <command> [args]

Commands:
  serve                          Start the HTTP API (default)
  mcp                            Serve the planning tools over MCP (stdio)
  import <owner/repo> [branch]   Create Linear projects and issues from a repository
  download <owner/repo> [branch] Copy a repository's terna/ tree into the local mirror
  comment <ISSUE-ID>             Post the latest attempt report as a Linear comment
  version                        Print the version
`)
}

// withConfig loads .env and the environment, configures logging and hands
// both to fn.
func withConfig(out io.Writer, fn func(*config.Config, zerolog.Logger) error) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return fn(cfg, newLogger(cfg, out))
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = logger
	return logger
}

func serve(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Bool("linear_enabled", cfg.LinearEnabled()).
		Bool("llm_enabled", cfg.LLMEnabled()).
		Bool("github_app", cfg.GitHubAppEnabled()).
		Str("version", version).
		Msg("starting terna")

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	srv := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr:  cfg.ListenAddr,
		AuthConfig:  mgmt.AuthConfig{APIKey: cfg.APIKey},
		RateLimit:   mgmt.RateLimitConfig{RPS: cfg.RateLimitRPS},
		CORSOrigins: strings.Join(cfg.CORSOriginList(), ","),
	}, a.deps(), logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.maintain(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
		cancel()
		wg.Wait()
		return err
	}

	cancel()

	done := make(chan struct{})
	go func() {
		if err := srv.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("http server shutdown error")
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn().Msg("shutdown timed out")
	}
	return nil
}

func serveMCP(cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.close()

	if !cfg.LinearEnabled() {
		logger.Warn().Msg("LINEAR_API_KEY not set; only the commit tool is available")
	}
	return mcpserver.New(a.registry, logger).ServeStdio(version)
}

func syncRepo(cfg *config.Config, logger zerolog.Logger, action string, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: terna %s <owner/repo> [branch]", action)
	}
	owner, repo, ok := strings.Cut(args[0], "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("repository must be owner/repo, got %q", args[0])
	}
	branch := "main"
	if len(args) == 2 {
		branch = args[1]
	}

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := a.connector.ClientFor(ctx)
	if err != nil {
		return err
	}
	src := a.source(client, owner, repo, branch)

	run := &store.SyncRun{Action: action, Owner: owner, Repo: repo, Branch: branch, StartedAt: time.Now().UTC()}
	var result any
	switch action {
	case mgmt.ActionImport:
		if a.importer == nil {
			return fmt.Errorf("import needs LINEAR_API_KEY")
		}
		res, runErr := a.importer.Import(ctx, src)
		if res != nil {
			run.ProjectsCreated, run.ProjectsExisting = res.ProjectsCreated, res.ProjectsExisting
			run.IssuesCreated, run.IssuesExisting = res.IssuesCreated, res.IssuesExisting
			run.Errors = res.Errors
		}
		result, err = res, runErr
	default:
		res, runErr := a.downloader.Download(ctx, src)
		if res != nil {
			run.ProjectsCreated, run.IssuesCreated = res.Projects, res.Issues
			run.Errors = res.Errors
		}
		result, err = res, runErr
	}

	run.FinishedAt = time.Now().UTC()
	run.Success = err == nil && len(run.Errors) == 0
	if err != nil {
		run.Errors = append(run.Errors, err.Error())
	}
	a.metrics.RecordSyncRun(action, err)
	if saveErr := a.store.SaveSyncRun(ctx, run); saveErr != nil {
		logger.Warn().Err(saveErr).Msg("recording sync run")
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

func postAttempt(cfg *config.Config, logger zerolog.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: terna comment <ISSUE-ID>")
	}
	if !cfg.LinearEnabled() {
		return fmt.Errorf("comment needs LINEAR_API_KEY")
	}

	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := ternasync.NewAttemptPoster(a.mirror, a.tracker, logger).Post(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(res)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
