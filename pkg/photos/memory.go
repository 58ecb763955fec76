package photos

import (
	"context"
	"sync"
)

// MemoryStore keeps photos in memory. It is used by dry runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	photos map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{photos: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.photos[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[key] = append([]byte(nil), data...)
	return nil
}

// Len returns the number of stored photos.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.photos)
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
