package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStorage is an in-process Storage. Contents are lost when the process exits.
type MemoryStorage struct {
	mu     sync.RWMutex
	items  map[string]string
	quota  int64
	closed bool
}

// NewMemory creates an empty in-memory storage. A quota <= 0 disables the quota check.
func NewMemory(quota int64) *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string), quota: quota}
}

// GetItem returns the value stored under key.
func (m *MemoryStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.items[key]
	return v, ok, nil
}

// SetItem stores value under key.
func (m *MemoryStorage) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	var used int64
	for k, v := range m.items {
		if k != key {
			used += int64(len(v))
		}
	}
	if exceedsQuota(m.quota, used, value) {
		return fmt.Errorf("set item %s (%d bytes): %w", key, len(value), ErrQuotaExceeded)
	}

	m.items[key] = value
	return nil
}

// RemoveItem deletes key.
func (m *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.items, key)
	return nil
}

// Ping reports whether the storage is still open.
func (m *MemoryStorage) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the storage closed.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
