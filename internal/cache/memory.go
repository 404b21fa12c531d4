package cache

import (
	"context"
	"sync"
	"time"
)

var _ KV = (*Memory)(nil)

// Memory is a process-local KV used in tests and single-node deployments.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
	}
}

func (m *Memory) Get(ctx context.Context, k string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[k]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, k)
		m.mu.Unlock()
		return nil, ErrCacheMiss
	}

	return entry.value, nil
}

func (m *Memory) Set(ctx context.Context, k string, v []byte, ttl time.Duration) error {
	entry := memoryEntry{value: v}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[k] = entry
	m.mu.Unlock()

	return nil
}

func (m *Memory) Delete(ctx context.Context, k string) error {
	m.mu.Lock()
	delete(m.entries, k)
	m.mu.Unlock()

	return nil
}
