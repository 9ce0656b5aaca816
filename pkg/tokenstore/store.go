// Package tokenstore keeps short-lived credentials: GitHub session tokens
// connected through the HTTP API and cached GitHub App installation tokens.
package tokenstore

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// Key prefixes. Every key in a Store starts with one of them.
const (
	SessionPrefix      = "github:session:"
	InstallationPrefix = "github:installation:"
)

// SessionKey is the key under which a chat session's GitHub token is kept.
func SessionKey(sessionID string) string {
	return SessionPrefix + sessionID
}

// InstallationKey is the key of the cached token of a GitHub App
// installation.
func InstallationKey(installationID int64) string {
	return InstallationPrefix + strconv.FormatInt(installationID, 10)
}

// Token is a stored credential. Metadata carries descriptive values such
// as the GitHub login the token belongs to; it is never used for auth.
type Token struct {
	Key       string            `json:"key"`
	Value     string            `json:"value"`
	ExpiresAt time.Time         `json:"expires_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsExpired reports whether the token has expired now.
func (t *Token) IsExpired() bool {
	return t.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the token is expired at instant now. A token
// is valid up to, but not including, its expiry.
func (t *Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Store is implemented by MemoryStore and by the SQLite-backed store of
// the server.
type Store interface {
	// Set stores a token with the given key and TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetWithMetadata stores a token along with its metadata.
	SetWithMetadata(ctx context.Context, key, value string, ttl time.Duration, metadata map[string]string) error
	// Get retrieves a token by key. Returns ErrTokenNotFound or ErrTokenExpired.
	Get(ctx context.Context, key string) (*Token, error)
	// Delete removes a token by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Count returns the number of unexpired tokens.
	Count(ctx context.Context) (int, error)
	// Cleanup removes all expired tokens and returns how many it removed.
	Cleanup(ctx context.Context) (int, error)
}
