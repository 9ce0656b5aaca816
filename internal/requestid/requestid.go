// Package requestid carries a per-request ID from the HTTP API through
// context into logs and outbound tracker calls.
package requestid

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header carrying the request ID.
const Header = "X-Request-ID"

// maxLen bounds client-supplied IDs.
const maxLen = 64

type ctxKey struct{}

const localsKey = "request_id"

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request ID carried by ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Generate returns a fresh request ID.
func Generate() string {
	return uuid.NewString()
}

// Sanitize returns id when it is a usable client-supplied ID: non-empty,
// at most 64 characters of letters, digits, '-', '_' or '.'. Anything
// else is replaced by a generated ID.
func Sanitize(id string) string {
	if id == "" || len(id) > maxLen {
		return Generate()
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return Generate()
		}
	}
	return id
}

// Middleware assigns every request an ID, echoing a valid incoming
// X-Request-ID, and stores it in the locals and the user context.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := Sanitize(c.Get(Header))
		c.Set(Header, id)
		c.Locals(localsKey, id)
		c.SetUserContext(WithRequestID(c.UserContext(), id))
		return c.Next()
	}
}

// Of returns the ID Middleware assigned to c.
func Of(c *fiber.Ctx) string {
	id, _ := c.Locals(localsKey).(string)
	return id
}

// Propagate copies the request ID in ctx onto an outbound request.
func Propagate(ctx context.Context, req *http.Request) {
	if id, ok := FromContext(ctx); ok {
		req.Header.Set(Header, id)
	}
}

// Logger scopes logger with the request ID carried by ctx, if any.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id, ok := FromContext(ctx); ok {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}
