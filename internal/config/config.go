package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"` // "json" or "console"

	// HTTP API
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8080"`
	APIKey       string `envconfig:"API_KEY"` // bearer auth; empty disables auth (dev only)
	RateLimitRPS int    `envconfig:"RATE_LIMIT_RPS" default:"20"`
	CORSOrigins  string `envconfig:"CORS_ORIGINS"`

	// Linear (optional; planning tools are disabled without it)
	LinearAPIKey      string `envconfig:"LINEAR_API_KEY"`
	LinearAPIURL      string `envconfig:"LINEAR_API_URL" default:"https://api.linear.app/graphql"`
	LinearWorkspace   string `envconfig:"LINEAR_WORKSPACE" default:"terna"`
	LinearDefaultTeam string `envconfig:"LINEAR_DEFAULT_TEAM" default:"Engineering"`

	// Local mirror root. Projects live under <TernaRoot>/projects.
	TernaRoot string `envconfig:"TERNA_ROOT" default:"terna"`

	// GitHub. GITHUB_TOKEN is the fallback credential when a session has
	// not connected its own account. The App settings enable installation
	// tokens for sync runs against org repositories.
	GitHubToken          string        `envconfig:"GITHUB_TOKEN"`
	GitHubAPIURL         string        `envconfig:"GITHUB_API_URL"`
	GitHubAppID          int64         `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64         `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string        `envconfig:"GITHUB_PRIVATE_KEY_PATH"`
	GitHubTokenTTL       time.Duration `envconfig:"GITHUB_TOKEN_TTL" default:"720h"`

	// Agent runtime
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	LLMModel        string `envconfig:"LLM_MODEL" default:"claude-sonnet-4-5"`
	LLMMaxTokens    int    `envconfig:"LLM_MAX_TOKENS" default:"4096"`
	AgentMaxTurns   int    `envconfig:"AGENT_MAX_TURNS" default:"12"`
	AgentsFile      string `envconfig:"AGENTS_FILE"` // optional YAML overrides for agent definitions

	// Persistence
	DBPath string `envconfig:"DB_PATH" default:"terna.db"`
}

// LinearEnabled returns true if a Linear API key is configured.
func (c *Config) LinearEnabled() bool {
	return c.LinearAPIKey != ""
}

// LLMEnabled returns true if the agent runtime can reach a model.
func (c *Config) LLMEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// GitHubAppEnabled returns true if GitHub App credentials are configured.
func (c *Config) GitHubAppEnabled() bool {
	return c.GitHubAppID > 0 && c.GitHubInstallationID > 0 && c.GitHubPrivateKeyPath != ""
}

// CORSOriginList returns the configured CORS origins, or nil.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.AgentMaxTurns < 1 {
		return fmt.Errorf("AGENT_MAX_TURNS must be positive, got %d", c.AgentMaxTurns)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.GitHubAppID > 0 && c.GitHubPrivateKeyPath == "" {
		return fmt.Errorf("GITHUB_PRIVATE_KEY_PATH is required when GITHUB_APP_ID is set")
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
