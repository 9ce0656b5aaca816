// Package tracker talks to the Linear GraphQL API and adapts it to the
// planning models. Client is the raw transport; Adapter adds identifier
// resolution, defaults and best-effort mirroring on top.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/metrics"
	"github.com/nfugallo/terna/internal/requestid"
	"github.com/nfugallo/terna/internal/retry"
)

// DefaultEndpoint is Linear's public GraphQL endpoint.
const DefaultEndpoint = "https://api.linear.app/graphql"

const service = "linear"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Authenticator applies authentication to requests.
type Authenticator interface {
	Apply(req *http.Request) error
}

// Client wraps the Linear GraphQL API.
type Client struct {
	endpoint   string
	httpClient HTTPClient
	auth       Authenticator
	retry      retry.Config
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a new Linear API client.
func NewClient(endpoint string, auth Authenticator, logger zerolog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		auth:       auth,
		retry:      retry.DefaultConfig(),
		logger:     logger.With().Str("component", "linear").Logger(),
	}
	c.retry.Logger = &c.logger
	return c
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// SetRetry overrides the retry policy for queries.
func (c *Client) SetRetry(cfg retry.Config) {
	cfg.Logger = &c.logger
	c.retry = cfg
}

// SetMetrics enables request instrumentation.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code            string `json:"code"`
		Type            string `json:"type"`
		UserPresentable string `json:"userPresentableMessage"`
	} `json:"extensions"`
}

// query runs a read operation, retrying transient failures.
func (c *Client) query(ctx context.Context, op, q string, vars map[string]any, out any) error {
	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, op, q, vars, out)
	})
}

// mutate runs a write operation. Only rate limiting is retried.
func (c *Client) mutate(ctx context.Context, op, q string, vars map[string]any, out any) error {
	cfg := retry.MutationConfig()
	cfg.MaxAttempts = c.retry.MaxAttempts
	cfg.BaseDelay = c.retry.BaseDelay
	cfg.MaxDelay = c.retry.MaxDelay
	cfg.Jitter = c.retry.Jitter
	cfg.Logger = &c.logger
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		return c.do(ctx, op, q, vars, out)
	})
}

// do executes a single authenticated GraphQL request and decodes data into out.
func (c *Client) do(ctx context.Context, op, q string, vars map[string]any, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordTrackerRequest(op, err, time.Since(start))
		}
	}()

	body, err := json.Marshal(graphQLRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	requestid.Propagate(ctx, req)

	if err := c.auth.Apply(req); err != nil {
		return fmt.Errorf("applying auth: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: executing request: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", op, err)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	decodeErr := json.Unmarshal(raw, &envelope)

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && len(envelope.Errors) > 0 {
			msg = envelope.Errors[0].Message
		}
		return mapStatus(op, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: decoding graphql envelope: %w", op, decodeErr)
	}
	if len(envelope.Errors) > 0 {
		return mapGraphQLError(op, envelope.Errors[0])
	}
	if out == nil {
		return nil
	}
	if len(envelope.Data) == 0 {
		envelope.Data = json.RawMessage("null")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%s: decoding data: %w", op, err)
	}
	return nil
}

func mapStatus(op string, status int, msg string) error {
	apiErr := &terrors.APIError{Service: service, StatusCode: status, Message: op + ": " + msg}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.Err = terrors.ErrUnauthorized
	case http.StatusTooManyRequests:
		apiErr.Err = terrors.ErrRateLimited
	case http.StatusNotFound:
		apiErr.Err = terrors.ErrNotFound
	}
	return apiErr
}

// mapGraphQLError classifies an error returned inside a 200 envelope.
func mapGraphQLError(op string, e graphQLError) error {
	msg := e.Message
	if e.Extensions.UserPresentable != "" {
		msg = e.Extensions.UserPresentable
	}
	lower := strings.ToLower(e.Message)
	switch {
	case strings.Contains(lower, "not found"), strings.Contains(lower, "could not find"):
		return &terrors.APIError{Service: service, StatusCode: http.StatusNotFound, Message: op + ": " + msg, Err: terrors.ErrNotFound}
	case e.Extensions.Code == "RATELIMITED":
		return &terrors.APIError{Service: service, StatusCode: http.StatusTooManyRequests, Message: op + ": " + msg, Err: terrors.ErrRateLimited}
	case e.Extensions.Code == "AUTHENTICATION_ERROR":
		return &terrors.APIError{Service: service, StatusCode: http.StatusUnauthorized, Message: op + ": " + msg, Err: terrors.ErrUnauthorized}
	}
	return &terrors.APIError{Service: service, StatusCode: http.StatusBadRequest, Message: op + ": " + msg}
}
