package history

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryCapacity is the number of entries kept per source.
const DefaultMemoryCapacity = 200

// MemoryStore keeps the most recent entries of each source in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string][]Entry // oldest first
}

// NewMemoryStore creates a store holding at most capacity entries per source.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		entries:  make(map[string][]Entry),
	}
}

// Record implements Store.
func (m *MemoryStore) Record(_ context.Context, e Entry) error {
	e, err := prepare(e)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.entries[e.SourceKey], e)
	if len(list) > m.capacity {
		list = append([]Entry(nil), list[len(list)-m.capacity:]...)
	}
	m.entries[e.SourceKey] = list
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, sourceKey string, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.entries[sourceKey]
	result := make([]Entry, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, list[i])
	}
	return result, nil
}

// Purge implements Store.
func (m *MemoryStore) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for key, list := range m.entries {
		kept := list[:0]
		for _, e := range list {
			if e.StartedAt.Before(before) {
				purged++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(m.entries, key)
			continue
		}
		m.entries[key] = kept
	}
	return purged, nil
}
