// Package store provides key/value persistence backends for the client cache.
package store

import (
	"context"
	"errors"
)

// DefaultQuotaBytes mirrors the usual per-origin browser storage allowance.
const DefaultQuotaBytes = 5 << 20

var (
	// ErrQuotaExceeded is returned when a write would exceed the storage quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrClosed is returned by operations on a closed storage.
	ErrClosed = errors.New("storage closed")
)

// Storage is a small string key/value store with a byte quota.
type Storage interface {
	// GetItem returns the value stored under key. ok is false if the key is absent.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem stores value under key, replacing any previous value.
	// It returns ErrQuotaExceeded if the total stored bytes would exceed the quota.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Keys names the records a client keeps in a Storage, namespaced per application.
type Keys struct {
	Messages string
	Metadata string
	ClientID string
}

// NamespacedKeys returns the record keys for namespace.
func NamespacedKeys(namespace string) Keys {
	return Keys{
		Messages: namespace + "_messages",
		Metadata: namespace + "_metadata",
		ClientID: namespace + "_client_id",
	}
}

func exceedsQuota(quota, usedByOthers int64, value string) bool {
	return quota > 0 && usedByOthers+int64(len(value)) > quota
}
