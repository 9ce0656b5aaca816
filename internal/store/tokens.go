package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nfugallo/terna/pkg/tokenstore"
)

// TokenStore implements tokenstore.Store on top of the tokens table, so
// connected GitHub tokens survive restarts.
type TokenStore struct {
	s *Store
}

var _ tokenstore.Store = (*TokenStore)(nil)

// Tokens returns the SQLite-backed token store.
func (s *Store) Tokens() *TokenStore {
	return &TokenStore{s: s}
}

func (t *TokenStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return t.SetWithMetadata(ctx, key, value, ttl, nil)
}

func (t *TokenStore) SetWithMetadata(ctx context.Context, key, value string, ttl time.Duration, metadata map[string]string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var meta sql.NullString
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode token metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	now := t.s.now()
	_, err := t.s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO tokens (key, value, metadata, expires_at, created_at)
	VALUES (?, ?, ?, ?, ?)
	`, key, value, meta, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (t *TokenStore) Get(ctx context.Context, key string) (*tokenstore.Token, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	tok := &tokenstore.Token{Key: key}
	var meta sql.NullString
	var expires int64
	err := t.s.db.QueryRowContext(ctx,
		`SELECT value, metadata, expires_at FROM tokens WHERE key = ?`, key,
	).Scan(&tok.Value, &meta, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tokenstore.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	tok.ExpiresAt = time.UnixMilli(expires)
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &tok.Metadata); err != nil {
			t.s.logger.Warn().Err(err).Str("key", key).Msg("token has malformed metadata")
		}
	}
	if tok.ExpiredAt(t.s.now()) {
		return nil, tokenstore.ErrTokenExpired
	}
	return tok, nil
}

func (t *TokenStore) Delete(ctx context.Context, key string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, err := t.s.db.ExecContext(ctx, `DELETE FROM tokens WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

func (t *TokenStore) Count(ctx context.Context) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	var n int
	err := t.s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tokens WHERE expires_at > ?`, t.s.now().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}
	return n, nil
}

func (t *TokenStore) Cleanup(ctx context.Context) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	res, err := t.s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at <= ?`, t.s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
