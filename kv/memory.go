package kv

import (
	"context"
	"sync"

	"github.com/saiset-co/sai-zap/types"
)

// MemoryStore keeps encoded values so callers never share mutable state
// with the table.
type MemoryStore struct {
	values map[string][]byte
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (interface{}, bool, error) {
	if key == "" {
		return nil, false, types.ErrKVKeyEmpty
	}

	m.mu.RLock()
	data, ok := m.values[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	value, err := decodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value interface{}) error {
	if key == "" {
		return types.ErrKVKeyEmpty
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.values[key] = data
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return types.ErrKVKeyEmpty
	}

	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
