package cache

import (
	"sync"

	"github.com/pbaille/pagesync/internal/domain"
)

// Memory is an in-process Backend. It does not survive restarts.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
}

// NewMemory creates an empty Memory backend
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]domain.CacheEntry)}
}

func (m *Memory) Load(slug string) (domain.CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[slug]
	return entry, ok, nil
}

func (m *Memory) Save(entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Slug] = entry
	return nil
}

func (m *Memory) SaveStamp(slug string, stamp domain.VersionStamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[slug]
	if !ok {
		return nil
	}
	entry.VersionStamp = stamp
	m.entries[slug] = entry
	return nil
}

func (m *Memory) Close() error { return nil }
