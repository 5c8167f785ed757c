package repository

import (
	"context"
	"sync"
)

// MemoryKVRepository keeps values in process memory. Values are copied on the
// way in and out so callers cannot mutate stored state.
type MemoryKVRepository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKVRepository() *MemoryKVRepository {
	return &MemoryKVRepository{data: make(map[string][]byte)}
}

func (m *MemoryKVRepository) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.data[key]), nil
}

func (m *MemoryKVRepository) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = clone(value)
	return nil
}

func (m *MemoryKVRepository) Update(_ context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(clone(m.data[key]))
	if err != nil {
		return err
	}
	if next != nil {
		m.data[key] = clone(next)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryKVRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryKVRepository) Close() error {
	return nil
}
