package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/nfugallo/terna/pkg/tokenstore"
)

// Installation tokens last one hour; the cached copy is dropped at 55 minutes.
const installationTokenTTL = 55 * time.Minute

// App authenticates as a GitHub App installation. It is a TokenSource, used
// when no personal token is connected.
type App struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	apiURL         string
	store          tokenstore.Store
	httpClient     *http.Client
	logger         zerolog.Logger
}

// NewApp creates an App from a PEM private key file.
func NewApp(appID, installationID int64, privateKeyPath string, store tokenstore.Store, logger zerolog.Logger) (*App, error) {
	keyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return NewAppFromKeyBytes(appID, installationID, keyData, store, logger)
}

// NewAppFromKeyBytes creates an App from PEM key bytes.
func NewAppFromKeyBytes(appID, installationID int64, keyData []byte, store tokenstore.Store, logger zerolog.Logger) (*App, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &App{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		apiURL:         defaultAPIURL,
		store:          store,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         logger.With().Str("component", "github.app").Logger(),
	}, nil
}

// SetAPIURL points the app at a different API root (GitHub Enterprise, tests).
func (a *App) SetAPIURL(u string) {
	a.apiURL = strings.TrimSuffix(u, "/")
}

// SetHTTPClient sets the client used for token exchange.
func (a *App) SetHTTPClient(hc *http.Client) {
	a.httpClient = hc
}

func (a *App) generateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", a.appID),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

// Token returns a cached installation token, exchanging a fresh JWT for a
// new one when the cache is empty or expired.
func (a *App) Token(ctx context.Context) (string, error) {
	if tok, err := a.store.Get(ctx, tokenstore.InstallationKey(a.installationID)); err == nil {
		a.logger.Debug().Msg("using cached installation token")
		return tok.Value, nil
	}

	a.logger.Info().Int64("installation_id", a.installationID).Msg("generating new installation token")
	signed, err := a.generateJWT()
	if err != nil {
		return "", fmt.Errorf("generating JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.apiURL, a.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("installation token request failed (status %d): %s", resp.StatusCode, body)
	}

	var tokenResp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	if err := a.store.Set(ctx, tokenstore.InstallationKey(a.installationID), tokenResp.Token, installationTokenTTL); err != nil {
		a.logger.Warn().Err(err).Msg("failed to cache installation token")
	}
	return tokenResp.Token, nil
}
