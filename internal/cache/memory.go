// Package cache provides backends for the shared discount rule cache.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

var _ discount.CacheBackend = (*Memory)(nil)

type entry struct {
	ids     []string
	expires time.Time
}

// Memory is a process-local backend used when no Redis is configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns a copy of the IDs stored under key, if present and not expired.
func (m *Memory) Get(_ context.Context, key string) ([]string, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expires.Equal(e.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return append([]string{}, e.ids...), true, nil
}

// Set stores ids under key. A non-positive ttl never expires.
func (m *Memory) Set(_ context.Context, key string, ids []string, ttl time.Duration) error {
	e := entry{ids: append([]string{}, ids...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Delete removes keys.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
