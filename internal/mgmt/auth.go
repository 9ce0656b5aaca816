package mgmt

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	terrors "github.com/nfugallo/terna/internal/errors"
)

// AuthConfig holds authentication configuration. An empty APIKey disables
// authentication.
type AuthConfig struct {
	APIKey string
}

// isProbe reports whether path is exempt from auth, rate limiting and
// request logging.
func isProbe(path string) bool {
	return path == "/health" || path == "/metrics"
}

// NewAuthMiddleware returns a Fiber middleware that validates the Authorization header.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.APIKey == "" || isProbe(c.Path()) || c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
			return c.Next()
		}

		logger.Warn().
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unauthorized request: invalid API key")

		return problemResponse(c, fiber.StatusUnauthorized,
			"invalid_api_key", "Unauthorized",
			"Invalid API key")
	}
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// problemFromError maps a domain error onto a problem response.
func problemFromError(c *fiber.Ctx, err error) error {
	var apiErr *terrors.APIError
	switch {
	case errors.Is(err, terrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_input", "Bad Request", err.Error())
	case errors.Is(err, terrors.ErrSecurityViolation):
		return problemResponse(c, fiber.StatusForbidden, "security_violation", "Forbidden", err.Error())
	case errors.Is(err, terrors.ErrGitHubNotConnected):
		return problemResponse(c, fiber.StatusUnauthorized, "github_not_connected", "Unauthorized", err.Error())
	case errors.Is(err, terrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.As(err, &apiErr):
		return problemResponse(c, fiber.StatusBadGateway, "upstream_error", "Bad Gateway", err.Error())
	default:
		return problemResponse(c, fiber.StatusInternalServerError, "internal_error", "Internal Server Error", "An internal error occurred")
	}
}
