package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestCacheEntry_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	entry := &CacheEntry{
		Key:       "org:acme",
		Data:      []byte(`{"name":"acme"}`),
		Timestamp: now,
		ExpiresAt: now.Add(time.Minute),
		Source:    SourceNetwork,
	}
	require.NoError(t, s.PutCacheEntry(ctx, entry))

	got, err := s.GetCacheEntry(ctx, "org:acme")
	require.NoError(t, err)
	assert.Equal(t, entry.Key, got.Key)
	assert.Equal(t, entry.Data, got.Data)
	assert.Equal(t, entry.Timestamp.UnixMilli(), got.Timestamp.UnixMilli())
	assert.Equal(t, entry.ExpiresAt.UnixMilli(), got.ExpiresAt.UnixMilli())
	assert.Equal(t, SourceNetwork, got.Source)
}

func TestCacheEntry_OverwriteByKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &CacheEntry{Key: "k", Data: []byte("v1"), Timestamp: time.Now(), Source: SourceLocal}
	require.NoError(t, s.PutCacheEntry(ctx, first))

	second := &CacheEntry{Key: "k", Data: []byte("v2"), Timestamp: time.Now(), Source: SourceNetwork}
	require.NoError(t, s.PutCacheEntry(ctx, second))

	got, err := s.GetCacheEntry(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Data)
	assert.Equal(t, SourceNetwork, got.Source)

	n, err := s.CountCacheEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCacheEntry_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetCacheEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCacheEntry_EmptyKeyRejected(t *testing.T) {
	s := openTestStore(t)

	err := s.PutCacheEntry(context.Background(), &CacheEntry{Data: []byte("x"), Timestamp: time.Now(), Source: SourceLocal})
	assert.Error(t, err)
}

func TestCacheEntry_NoExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCacheEntry(ctx, &CacheEntry{
		Key: "forever", Data: []byte("v"), Timestamp: time.Now(), Source: SourceLocal,
	}))

	got, err := s.GetCacheEntry(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.IsZero())
	assert.False(t, got.Expired(time.Now().Add(24*time.Hour)))
}

func TestCacheEntriesSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, key := range []string{"old", "mid", "new"} {
		require.NoError(t, s.PutCacheEntry(ctx, &CacheEntry{
			Key:       key,
			Data:      []byte(key),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Source:    SourceLocal,
		}))
	}

	entries, err := s.CacheEntriesSince(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCacheEntries_DeleteAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		require.NoError(t, s.PutCacheEntry(ctx, &CacheEntry{
			Key: key, Data: []byte(key), Timestamp: time.Now(), Source: SourceLocal,
		}))
	}

	require.NoError(t, s.DeleteCacheEntry(ctx, "a"))
	// Deleting a missing key is not an error.
	require.NoError(t, s.DeleteCacheEntry(ctx, "a"))

	n, err := s.CountCacheEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.ClearCacheEntries(ctx))
	n, err = s.CountCacheEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestContent_RoundTripAndTypeIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.PutContent(ctx, &ContentRecord{
		ID: "m1", Type: "message", Content: []byte(`{"text":"hi"}`),
		CreatedAt: now, ModifiedAt: now,
	}))
	require.NoError(t, s.PutContent(ctx, &ContentRecord{
		ID: "m2", Type: "message", Content: []byte(`{"text":"yo"}`),
		CreatedAt: now, ModifiedAt: now,
	}))
	require.NoError(t, s.PutContent(ctx, &ContentRecord{
		ID: "c1", Type: "channel", Content: []byte(`{"name":"general"}`),
		CreatedAt: now, ModifiedAt: now,
	}))

	messages, err := s.ContentByType(ctx, "message")
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	channels, err := s.ContentByType(ctx, "channel")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "c1", channels[0].ID)

	none, err := s.ContentByType(ctx, "task")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestContent_MarkSynced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.PutContent(ctx, &ContentRecord{
		ID: "m1", Type: "message", Content: []byte("{}"), CreatedAt: now, ModifiedAt: now,
	}))

	got, err := s.GetContent(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, got.Synced)

	require.NoError(t, s.MarkContentSynced(ctx, "m1"))

	got, err = s.GetContent(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
}

func TestFiles_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFile(ctx, &FileRecord{
		Path:         "docs/readme.md",
		Content:      []byte("# hello"),
		Size:         7,
		Metadata:     []byte(`{"mime":"text/markdown"}`),
		DownloadedAt: time.Now(),
	}))

	got, err := s.GetFile(ctx, "docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("# hello"), got.Content)
	assert.Equal(t, int64(7), got.Size)

	_, err = s.GetFile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.CountFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteFile(ctx, "docs/readme.md"))
	n, err = s.CountFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_InsertionOrderPreserved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Identical timestamps: order must come from seq, not the clock.
	ts := time.Now()
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendQueueItem(ctx, &QueueItem{
			ID: id, Operation: OpCreate, Resource: "k/" + id, Timestamp: ts,
		}))
	}

	items, err := s.QueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "first", items[0].ID)
	assert.Equal(t, "second", items[1].ID)
	assert.Equal(t, "third", items[2].ID)
	assert.Less(t, items[0].Seq, items[1].Seq)
}

func TestQueue_RetryCountAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendQueueItem(ctx, &QueueItem{
		ID: "q1", Operation: OpUpdate, Resource: "k", Data: []byte("v"), Timestamp: time.Now(),
	}))

	require.NoError(t, s.UpdateQueueRetryCount(ctx, "q1", 2))

	items, err := s.QueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].RetryCount)

	require.NoError(t, s.DeleteQueueItem(ctx, "q1"))
	n, err := s.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendQueueItem(ctx, &QueueItem{
		ID: "q1", Operation: OpCreate, Resource: "k", Data: []byte("v"), Timestamp: time.Now(),
	}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	items, err := s.QueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "q1", items[0].ID)
	assert.Equal(t, []byte("v"), items[0].Data)
}
