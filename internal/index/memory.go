package index

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

// MemoryStore keeps cached sets in process memory.
// It acts as the Local Cache Store when Redis is disabled, and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[string]map[string]domain.CachedSet // owner -> setID -> record
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sets: make(map[string]map[string]domain.CachedSet),
	}
}

// Get returns a copy of owner's records
func (m *MemoryStore) Get(_ context.Context, owner string) (map[string]domain.CachedSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]domain.CachedSet, len(m.sets[owner]))
	for id, rec := range m.sets[owner] {
		rec.Set = *rec.Set.Clone()
		out[id] = rec
	}
	return out, nil
}

// Put adds or replaces a record
func (m *MemoryStore) Put(_ context.Context, owner, setID string, rec domain.CachedSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sets[owner] == nil {
		m.sets[owner] = make(map[string]domain.CachedSet)
	}
	rec.Set = *rec.Set.Clone()
	m.sets[owner][setID] = rec
	return nil
}

// Remove deletes a record
func (m *MemoryStore) Remove(_ context.Context, owner, setID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sets[owner], setID)
	if len(m.sets[owner]) == 0 {
		delete(m.sets, owner)
	}
	return nil
}

// Owners lists every owner with at least one record
func (m *MemoryStore) Owners(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owners := make([]string, 0, len(m.sets))
	for owner := range m.sets {
		owners = append(owners, owner)
	}
	return owners, nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(context.Context) error { return nil }
