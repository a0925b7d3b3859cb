package sso

import (
	"context"
	"sync"
	"time"
)

// NonceStore marks handshake nonces as used. Consume returns true exactly
// once per nonce within the retention window; a second call is a replay.
type NonceStore interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore is the single-instance NonceStore. Entries expire after
// their TTL and are pruned opportunistically on the next Consume.
type MemoryNonceStore struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

// NewMemoryNonceStore returns an empty in-memory store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		used: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Consume records the nonce and reports whether this was its first use.
func (m *MemoryNonceStore) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, expires := range m.used {
		if now.After(expires) {
			delete(m.used, n)
		}
	}
	if expires, ok := m.used[nonce]; ok && now.Before(expires) {
		return false, nil
	}
	m.used[nonce] = now.Add(ttl)
	return true, nil
}
