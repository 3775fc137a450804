package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/wschat/internal/domain"
	"github.com/ashureev/wschat/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testKeys = store.NamespacedKeys("ai_chat")

func newTestStore(t *testing.T, storage store.Storage, maxSize int) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC))
	s := New(storage, Options{
		Keys:     testKeys,
		ClientID: "client_abc",
		MaxSize:  maxSize,
		Clock:    mock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, mock
}

func persistedMessages(t *testing.T, storage store.Storage) []domain.CachedMessage {
	t.Helper()
	raw, ok, err := storage.GetItem(context.Background(), testKeys.Messages)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	var msgs []domain.CachedMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msgs))
	return msgs
}

func TestAppendPersistsServerMessagesImmediately(t *testing.T) {
	ctx := context.Background()
	storage := store.NewMemory(0)
	s, _ := newTestStore(t, storage, 0)

	s.Append(ctx, "hi", domain.RoleUser, time.Time{})
	assert.Empty(t, persistedMessages(t, storage), "user messages wait for a flush")

	s.Append(ctx, "Echo: hi", domain.RoleAssistant, time.Time{})
	msgs := persistedMessages(t, storage)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)

	s.Append(ctx, "boom", domain.RoleError, time.Time{})
	assert.Len(t, persistedMessages(t, storage), 3)
}

func TestMessageCountTracksUserMessagesOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, store.NewMemory(0), 0)

	s.Append(ctx, "one", domain.RoleUser, time.Time{})
	s.Append(ctx, "reply", domain.RoleAssistant, time.Time{})
	s.Append(ctx, "two", domain.RoleUser, time.Time{})
	s.Append(ctx, "oops", domain.RoleError, time.Time{})

	assert.Equal(t, 2, s.Metadata().MessageCount)
	assert.Equal(t, 4, s.Len())
}

func TestPersistLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := store.NewMemory(0)
	s, mock := newTestStore(t, storage, 0)

	s.Append(ctx, "hello", domain.RoleUser, time.Time{})
	mock.Add(time.Second)
	s.Append(ctx, "Echo: hello", domain.RoleAssistant, time.Time{})
	require.NoError(t, s.Persist(ctx))

	reloaded, _ := newTestStore(t, storage, 0)
	require.NoError(t, reloaded.Load(ctx))

	assert.Equal(t, s.Messages(), reloaded.Messages())
	meta := reloaded.Metadata()
	assert.Equal(t, 1, meta.MessageCount)
	assert.Equal(t, "client_abc", meta.ClientID)
	assert.NotEmpty(t, meta.LastSaved)
	_, ok := meta.LastSavedAt()
	assert.True(t, ok)
}

func TestPersistEvictsOldestBeyondMaxSize(t *testing.T) {
	ctx := context.Background()
	storage := store.NewMemory(0)
	s, _ := newTestStore(t, storage, 500)

	var first, second domain.CachedMessage
	for i := range 501 {
		m := s.Append(ctx, fmt.Sprintf("m%d", i), domain.RoleUser, time.Time{})
		switch i {
		case 0:
			first = m
		case 1:
			second = m
		}
	}
	require.NoError(t, s.Persist(ctx))

	msgs := s.Messages()
	require.Len(t, msgs, 500)
	assert.Equal(t, second.ID, msgs[0].ID)
	assert.NotContains(t, msgs, first)
	assert.Equal(t, "m500", msgs[499].Content)
	assert.Len(t, persistedMessages(t, storage), 500)
	assert.Equal(t, 501, s.Metadata().MessageCount)
}

func TestClearRemovesPersistedRecords(t *testing.T) {
	ctx := context.Background()
	storage := store.NewMemory(0)
	s, _ := newTestStore(t, storage, 0)

	s.Append(ctx, "hello", domain.RoleUser, time.Time{})
	s.Append(ctx, "Echo: hello", domain.RoleAssistant, time.Time{})

	require.NoError(t, s.Clear(ctx))
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Metadata().MessageCount)

	_, ok, err := storage.GetItem(ctx, testKeys.Metadata)
	require.NoError(t, err)
	assert.False(t, ok)

	reloaded, _ := newTestStore(t, storage, 0)
	require.NoError(t, reloaded.Load(ctx))
	assert.Zero(t, reloaded.Len())
	assert.Zero(t, reloaded.Metadata().MessageCount)
}

func TestLoadDiscardsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	storage := store.NewMemory(0)
	require.NoError(t, storage.SetItem(ctx, testKeys.Messages, "{not json"))
	require.NoError(t, storage.SetItem(ctx, testKeys.Metadata, "[]"))

	s, _ := newTestStore(t, storage, 0)
	require.NoError(t, s.Load(ctx))
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Metadata().MessageCount)
}

func TestLoadMissingRecordsIsEmpty(t *testing.T) {
	s, _ := newTestStore(t, store.NewMemory(0), 0)
	require.NoError(t, s.Load(context.Background()))
	assert.Zero(t, s.Len())
}

func TestLoadReportsStorageFailure(t *testing.T) {
	storage := store.NewMemory(0)
	require.NoError(t, storage.Close())

	s, _ := newTestStore(t, storage, 0)
	err := s.Load(context.Background())
	require.ErrorIs(t, err, store.ErrClosed)
}

// quotaStorage rejects the first failures writes with ErrQuotaExceeded.
type quotaStorage struct {
	*store.MemoryStorage
	mu       sync.Mutex
	failures int
	writes   int
}

func (q *quotaStorage) SetItem(ctx context.Context, key, value string) error {
	q.mu.Lock()
	q.writes++
	if q.failures > 0 {
		q.failures--
		q.mu.Unlock()
		return fmt.Errorf("set %s: %w", key, store.ErrQuotaExceeded)
	}
	q.mu.Unlock()
	return q.MemoryStorage.SetItem(ctx, key, value)
}

func TestPersistEvictsHalfOnQuotaAndRetriesOnce(t *testing.T) {
	ctx := context.Background()
	storage := &quotaStorage{MemoryStorage: store.NewMemory(0)}
	s, _ := newTestStore(t, storage, 0)

	for i := range 10 {
		s.Append(ctx, fmt.Sprintf("m%d", i), domain.RoleUser, time.Time{})
	}
	storage.failures = 1

	require.NoError(t, s.Persist(ctx))
	msgs := s.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "m5", msgs[0].Content)
	assert.Len(t, persistedMessages(t, storage), 5)
}

func TestPersistAbandonsAfterSecondQuotaFailure(t *testing.T) {
	ctx := context.Background()
	storage := &quotaStorage{MemoryStorage: store.NewMemory(0)}
	s, _ := newTestStore(t, storage, 0)

	for i := range 4 {
		s.Append(ctx, fmt.Sprintf("m%d", i), domain.RoleUser, time.Time{})
	}
	storage.failures = 2

	err := s.Persist(ctx)
	require.ErrorIs(t, err, store.ErrQuotaExceeded)
	assert.Equal(t, 2, storage.writes, "exactly one retry")
	assert.Equal(t, 2, s.Len())
	assert.Empty(t, persistedMessages(t, storage))
}

func TestPersistWithRealQuota(t *testing.T) {
	ctx := context.Background()
	storage := store.NewMemory(6000)
	s, _ := newTestStore(t, storage, 0)

	for i := range 60 {
		s.Append(ctx, fmt.Sprintf("message number %02d", i), domain.RoleUser, time.Time{})
	}
	require.NoError(t, s.Persist(ctx))
	assert.Equal(t, 30, s.Len())
	assert.Equal(t, "message number 30", s.Messages()[0].Content)
	assert.Len(t, persistedMessages(t, storage), 30)
}

func TestExportIsPure(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, store.NewMemory(0), 0)
	s.Append(ctx, "hello", domain.RoleUser, time.Time{})
	s.Append(ctx, "Echo: hello", domain.RoleAssistant, time.Time{})

	before := s.Messages()
	snap := s.Export()

	assert.Equal(t, "client_abc", snap.ClientID)
	assert.Equal(t, 1, snap.MessageCount)
	assert.Equal(t, "2025-03-14T15:09:26Z", snap.ExportDate)
	assert.Equal(t, before, snap.Messages)

	snap.Messages[0].Content = "mutated"
	assert.Equal(t, before, s.Messages())
	assert.Equal(t, 1, s.Metadata().MessageCount)
}

func TestPersistIfDirtySkipsCleanCache(t *testing.T) {
	ctx := context.Background()
	storage := &quotaStorage{MemoryStorage: store.NewMemory(0)}
	s, _ := newTestStore(t, storage, 0)

	require.NoError(t, s.PersistIfDirty(ctx))
	assert.Zero(t, storage.writes)

	s.Append(ctx, "hi", domain.RoleUser, time.Time{})
	require.NoError(t, s.PersistIfDirty(ctx))
	assert.Equal(t, 2, storage.writes)

	require.NoError(t, s.PersistIfDirty(ctx))
	assert.Equal(t, 2, storage.writes)
}
