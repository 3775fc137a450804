// Package cache keeps the bounded, persisted log of chat messages.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ashureev/wschat/internal/domain"
	"github.com/ashureev/wschat/internal/store"
)

// DefaultMaxSize is the number of messages kept after eviction.
const DefaultMaxSize = 500

// Options configures a Store.
type Options struct {
	Keys     store.Keys
	ClientID string
	MaxSize  int
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Store owns the in-memory message list and its persisted copy.
type Store struct {
	storage  store.Storage
	keys     store.Keys
	clientID string
	maxSize  int
	clock    clock.Clock
	logger   *slog.Logger

	mu           sync.Mutex
	messages     []domain.CachedMessage
	messageCount int
	lastSaved    string
	dirty        bool
}

// New creates an empty Store backed by storage. Call Load to restore persisted state.
func New(storage store.Storage, opts Options) *Store {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		storage:  storage,
		keys:     opts.Keys,
		clientID: opts.ClientID,
		maxSize:  opts.MaxSize,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
}

// Append records a message. Assistant and error messages are persisted immediately;
// user messages wait for the next background flush.
func (s *Store) Append(ctx context.Context, content string, role domain.Role, at time.Time) domain.CachedMessage {
	if at.IsZero() {
		at = s.clock.Now()
	}
	msg := domain.NewCachedMessage(content, role, at)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	if role == domain.RoleUser {
		s.messageCount++
	}
	s.dirty = true

	if role == domain.RoleAssistant || role == domain.RoleError {
		if err := s.persistLocked(ctx); err != nil {
			s.logger.Error("Failed to persist message cache", "error", err)
		}
	}
	return msg
}

// Load replaces the in-memory state with the persisted records.
// Malformed records are discarded with a warning; only storage failures are returned.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.messageCount = 0
	s.lastSaved = ""
	s.dirty = false

	raw, ok, err := s.storage.GetItem(ctx, s.keys.Messages)
	if err != nil {
		return fmt.Errorf("load cached messages: %w", err)
	}
	if ok {
		var msgs []domain.CachedMessage
		if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
			s.logger.Warn("Cached messages are malformed, starting with an empty cache", "error", err)
		} else {
			s.messages = msgs
		}
	}

	raw, ok, err = s.storage.GetItem(ctx, s.keys.Metadata)
	if err != nil {
		return fmt.Errorf("load cache metadata: %w", err)
	}
	if ok {
		var meta domain.CacheMetadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			s.logger.Warn("Cache metadata is malformed, resetting message count", "error", err)
		} else {
			s.messageCount = max(meta.MessageCount, 0)
			s.lastSaved = meta.LastSaved
		}
	}

	s.logger.Debug("Message cache loaded", "messages", len(s.messages), "message_count", s.messageCount)
	return nil
}

// Persist trims the cache to the newest MaxSize messages and writes both records.
// If the backend runs out of quota, the oldest half is evicted and the write is
// retried once; a second failure abandons this cycle.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// PersistIfDirty persists only when something changed since the last write.
func (s *Store) PersistIfDirty(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	if len(s.messages) > s.maxSize {
		evicted := len(s.messages) - s.maxSize
		s.messages = dropOldest(s.messages, evicted)
		s.logger.Debug("Evicted old cached messages", "evicted", evicted)
	}

	err := s.writeLocked(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrQuotaExceeded) {
		return fmt.Errorf("persist cache: %w", err)
	}

	evicted := max(len(s.messages)/2, min(len(s.messages), 1))
	s.messages = dropOldest(s.messages, evicted)
	s.logger.Warn("Storage quota exceeded, evicted oldest half of the cache", "evicted", evicted, "remaining", len(s.messages))

	if err := s.writeLocked(ctx); err != nil {
		return fmt.Errorf("persist cache after eviction: %w", err)
	}
	return nil
}

func (s *Store) writeLocked(ctx context.Context) error {
	msgs := s.messages
	if msgs == nil {
		msgs = []domain.CachedMessage{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	savedAt := s.clock.Now().UTC().Format(time.RFC3339Nano)
	meta, err := json.Marshal(domain.CacheMetadata{
		MessageCount: s.messageCount,
		LastSaved:    savedAt,
		ClientID:     s.clientID,
	})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := s.storage.SetItem(ctx, s.keys.Messages, string(data)); err != nil {
		return err
	}
	if err := s.storage.SetItem(ctx, s.keys.Metadata, string(meta)); err != nil {
		return err
	}

	s.lastSaved = savedAt
	s.dirty = false
	return nil
}

// Clear empties the cache and removes both persisted records.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.messageCount = 0
	s.lastSaved = ""
	s.dirty = false

	var errs []error
	if err := s.storage.RemoveItem(ctx, s.keys.Messages); err != nil {
		errs = append(errs, err)
	}
	if err := s.storage.RemoveItem(ctx, s.keys.Metadata); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Export returns a snapshot of the cache. It does not modify anything.
func (s *Store) Export() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.Snapshot{
		ClientID:     s.clientID,
		ExportDate:   s.clock.Now().UTC().Format(time.RFC3339Nano),
		MessageCount: s.messageCount,
		Messages:     append([]domain.CachedMessage{}, s.messages...),
	}
}

// Messages returns a copy of the cached messages in insertion order.
func (s *Store) Messages() []domain.CachedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CachedMessage{}, s.messages...)
}

// Metadata returns the current bookkeeping values.
func (s *Store) Metadata() domain.CacheMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CacheMetadata{
		MessageCount: s.messageCount,
		LastSaved:    s.lastSaved,
		ClientID:     s.clientID,
	}
}

// Len returns the number of cached messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// dropOldest returns msgs without its first n entries, in a fresh backing array
// so evicted messages can be collected.
func dropOldest(msgs []domain.CachedMessage, n int) []domain.CachedMessage {
	if n <= 0 {
		return msgs
	}
	if n >= len(msgs) {
		return nil
	}
	kept := make([]domain.CachedMessage, len(msgs)-n)
	copy(kept, msgs[n:])
	return kept
}
