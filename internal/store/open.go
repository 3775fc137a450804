package store

import "fmt"

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// Options selects and configures a storage backend.
type Options struct {
	Backend    string
	SQLitePath string
	PebbleDir  string
	QuotaBytes int64
}

// Open returns the backend named by opts.Backend.
func Open(opts Options) (Storage, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return NewSQLite(opts.SQLitePath, opts.QuotaBytes)
	case BackendPebble:
		return NewPebble(opts.PebbleDir, opts.QuotaBytes)
	case BackendMemory:
		return NewMemory(opts.QuotaBytes), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
