package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// MemoryNonces is an in-process domain.NonceStore for single-instance
// deployments. Expired keys are pruned as new ones are claimed.
type MemoryNonces struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
	pruned time.Time
}

// NewMemoryNonces creates an empty MemoryNonces.
func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{seen: make(map[string]time.Time), now: time.Now}
}

// Claim implements domain.NonceStore.
func (m *MemoryNonces) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Sub(m.pruned) >= time.Minute {
		for k, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, k)
			}
		}
		m.pruned = now
	}
	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

var _ domain.NonceStore = (*MemoryNonces)(nil)
