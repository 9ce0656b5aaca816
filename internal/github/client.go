// Package github wraps the GitHub REST API for the folder-restricted commit
// tool and the repository side of folder sync.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/pkg/tokenstore"
)

const defaultAPIURL = "https://api.github.com"

// TokenSource yields a GitHub token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed personal access token. An empty token reports
// ErrGitHubNotConnected.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", terrors.ErrGitHubNotConnected
	}
	return string(s), nil
}

type sessionKey struct{}

// WithSession attaches the caller's session id to ctx.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session id attached by WithSession.
func SessionFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKey{}).(string); ok {
		return id
	}
	return ""
}

// Connector builds authenticated clients. A token connected for the
// caller's session wins over the fallback source.
type Connector struct {
	apiURL     string
	httpClient *http.Client
	sessions   tokenstore.Store
	fallback   TokenSource
	ttl        time.Duration
	logger     zerolog.Logger
}

// NewConnector creates a connector. sessions and fallback may be nil.
func NewConnector(sessions tokenstore.Store, fallback TokenSource, logger zerolog.Logger) *Connector {
	return &Connector{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sessions:   sessions,
		fallback:   fallback,
		ttl:        30 * 24 * time.Hour,
		logger:     logger.With().Str("component", "github").Logger(),
	}
}

// SetAPIURL points clients at a different API root (GitHub Enterprise, tests).
func (c *Connector) SetAPIURL(u string) { c.apiURL = u }

// SetHTTPClient sets the base HTTP client.
func (c *Connector) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

// SetTTL sets how long connected session tokens are kept.
func (c *Connector) SetTTL(ttl time.Duration) { c.ttl = ttl }

// NewClient returns a client authenticated with token.
func (c *Connector) NewClient(token string) (*gh.Client, error) {
	client := gh.NewClient(c.httpClient).WithAuthToken(token)
	if c.apiURL != "" {
		base, err := url.Parse(strings.TrimSuffix(c.apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing GitHub API URL: %w", err)
		}
		client.BaseURL = base
		client.UploadURL = base
	}
	return client, nil
}

// ClientFor returns a client for the session in ctx, falling back to the
// configured token source. It returns ErrGitHubNotConnected when neither
// yields a token.
func (c *Connector) ClientFor(ctx context.Context) (*gh.Client, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	return c.NewClient(token)
}

func (c *Connector) token(ctx context.Context) (string, error) {
	if id := SessionFromContext(ctx); id != "" && c.sessions != nil {
		tok, err := c.sessions.Get(ctx, tokenstore.SessionKey(id))
		switch {
		case err == nil:
			return tok.Value, nil
		case errors.Is(err, tokenstore.ErrTokenNotFound), errors.Is(err, tokenstore.ErrTokenExpired):
			c.logger.Debug().Err(err).Str("session", id).Msg("no session token, trying fallback")
		default:
			return "", fmt.Errorf("reading session token: %w", err)
		}
	}
	if c.fallback == nil {
		return "", terrors.ErrGitHubNotConnected
	}
	token, err := c.fallback.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", terrors.ErrGitHubNotConnected, err)
	}
	if token == "" {
		return "", terrors.ErrGitHubNotConnected
	}
	return token, nil
}

// Validate checks token against the API.
func (c *Connector) Validate(ctx context.Context, token string) TokenValidation {
	client, err := c.NewClient(token)
	if err != nil {
		return TokenValidation{Error: err.Error()}
	}
	return ValidateToken(ctx, client)
}

// Connect validates token and, when valid, stores it for sessionID.
func (c *Connector) Connect(ctx context.Context, sessionID, token string) (TokenValidation, error) {
	if sessionID == "" {
		return TokenValidation{}, terrors.Invalid("session id is required")
	}
	if strings.TrimSpace(token) == "" {
		return TokenValidation{}, terrors.Invalid("token is required")
	}
	if c.sessions == nil {
		return TokenValidation{}, fmt.Errorf("no token store configured")
	}

	v := c.Validate(ctx, token)
	if !v.Valid {
		return v, nil
	}
	meta := map[string]string{"login": v.User, "scopes": strings.Join(v.Scopes, ",")}
	if err := c.sessions.SetWithMetadata(ctx, tokenstore.SessionKey(sessionID), token, c.ttl, meta); err != nil {
		return v, fmt.Errorf("storing token: %w", err)
	}
	c.logger.Info().Str("session", sessionID).Str("login", v.User).Msg("GitHub account connected")
	return v, nil
}

// Disconnect forgets the token stored for sessionID.
func (c *Connector) Disconnect(ctx context.Context, sessionID string) error {
	if c.sessions == nil {
		return nil
	}
	return c.sessions.Delete(ctx, tokenstore.SessionKey(sessionID))
}
