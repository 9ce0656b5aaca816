package tokenstore

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore keeps tokens in process memory. Commands that run without a
// database use it; tokens are lost on exit.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]Token),
		now:    time.Now,
	}
}

// SetClock overrides the clock used to compute and check expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return m.SetWithMetadata(ctx, key, value, ttl, nil)
}

func (m *MemoryStore) SetWithMetadata(_ context.Context, key, value string, ttl time.Duration, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = Token{
		Key:       key,
		Value:     value,
		ExpiresAt: m.now().Add(ttl),
		Metadata:  maps.Clone(metadata),
	}
	return nil
}

// Get returns a copy of the stored token.
func (m *MemoryStore) Get(_ context.Context, key string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.tokens[key]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if tok.ExpiredAt(m.now()) {
		return nil, ErrTokenExpired
	}
	tok.Metadata = maps.Clone(tok.Metadata)
	return &tok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	n := 0
	for _, tok := range m.tokens {
		if !tok.ExpiredAt(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Cleanup(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, tok := range m.tokens {
		if tok.ExpiredAt(now) {
			delete(m.tokens, k)
			removed++
		}
	}
	return removed, nil
}
