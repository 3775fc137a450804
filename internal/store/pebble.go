package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleStorage implements Storage on a PebbleDB key-value store.
type PebbleStorage struct {
	db     *pebble.DB
	quota  int64
	mu     sync.Mutex
	closed bool
}

// NewPebble opens (or creates) a Pebble database in dir.
// A quota <= 0 disables the quota check.
func NewPebble(dir string, quota int64) (*PebbleStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pebble directory: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStorage{db: db, quota: quota}, nil
}

// GetItem returns the value stored under key.
func (s *PebbleStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}

	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get item %s: %w", key, err)
	}
	defer func() { _ = closer.Close() }()
	// Value is only valid until closer is closed.
	return string(val), true, nil
}

// SetItem stores value under key.
func (s *PebbleStorage) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if s.quota > 0 {
		used, err := s.usageExcluding([]byte(key))
		if err != nil {
			return err
		}
		if exceedsQuota(s.quota, used, value) {
			return fmt.Errorf("set item %s (%d bytes): %w", key, len(value), ErrQuotaExceeded)
		}
	}

	if err := s.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("set item %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStorage) usageExcluding(key []byte) (int64, error) {
	it, err := s.db.NewIter(nil)
	if err != nil {
		return 0, fmt.Errorf("measure storage usage: %w", err)
	}
	defer func() { _ = it.Close() }()

	var used int64
	for it.First(); it.Valid(); it.Next() {
		if bytes.Equal(it.Key(), key) {
			continue
		}
		used += int64(len(it.Value()))
	}
	return used, nil
}

// RemoveItem deletes key.
func (s *PebbleStorage) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("remove item %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the database is still open.
func (s *PebbleStorage) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the database.
func (s *PebbleStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
