package cache

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/willief/communitas-sub001/internal/store"
	"github.com/willief/communitas-sub001/pkg/remote"
)

// fakeBackend implements the storage half of remote.Backend for cache tests.
type fakeBackend struct {
	mu   sync.Mutex
	data map[string][]byte

	getErr error
	gets   int
	puts   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (b *fakeBackend) SecureGet(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.data[key]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return data, nil
}

func (b *fakeBackend) SecurePut(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	b.data[key] = data
	return nil
}

func (b *fakeBackend) SubscribeEntity(ctx context.Context, entityID, userID string) error {
	return nil
}

func (b *fakeBackend) UnsubscribeEntity(ctx context.Context, entityID, userID string) error {
	return nil
}

func (b *fakeBackend) SyncStatus(ctx context.Context) (remote.Status, error) {
	return remote.Status{}, nil
}

func (b *fakeBackend) Events(ctx context.Context) (<-chan remote.PushEvent, <-chan error) {
	events := make(chan remote.PushEvent)
	errs := make(chan error)
	go func() {
		<-ctx.Done()
		close(events)
		close(errs)
	}()
	return events, errs
}

type testEnv struct {
	cache    *Cache
	store    *store.Store
	backend  *fakeBackend
	online   bool
	enqueued []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{store: st, backend: newFakeBackend()}
	env.cache = New(st, env.backend,
		func() bool { return env.online },
		func(ctx context.Context, op, resource string, data []byte) error {
			env.enqueued = append(env.enqueued, resource)
			return nil
		})
	return env
}

func TestStoreAndGet_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	value := []byte(`{"a":1}`)
	if err := env.cache.Store(ctx, "k1", value, Options{TTL: time.Second}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := env.cache.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get = %q, want %q", got, value)
	}
}

func TestGet_ExpiredEntryEvicted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.cache.Store(ctx, "k1", []byte("v"), Options{TTL: 30 * time.Millisecond}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := env.cache.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after TTL = %v, want ErrNotFound", err)
	}

	// Entry must have left the in-memory layer, not just tested stale.
	if env.cache.Has("k1") {
		t.Error("expired entry still in memory after read")
	}
}

func TestStore_OfflineSyncOnlineQueuesMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.cache.Store(ctx, "k2", []byte("v"), Options{SyncOnline: true}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if len(env.enqueued) != 1 {
		t.Fatalf("enqueued %d mutations, want 1", len(env.enqueued))
	}
	if env.enqueued[0] != "k2" {
		t.Errorf("enqueued resource = %q, want k2", env.enqueued[0])
	}
	if env.backend.puts != 0 {
		t.Errorf("backend puts = %d, want 0 while offline", env.backend.puts)
	}
}

func TestStore_OnlineSyncOnlinePushesDirectly(t *testing.T) {
	env := newTestEnv(t)
	env.online = true
	ctx := context.Background()

	if err := env.cache.Store(ctx, "k3", []byte("v"), Options{SyncOnline: true}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if env.backend.puts != 1 {
		t.Errorf("backend puts = %d, want 1", env.backend.puts)
	}
	if len(env.enqueued) != 0 {
		t.Errorf("enqueued %d mutations, want 0 while online", len(env.enqueued))
	}
}

func TestGet_RemoteHitRepopulatesBothLayers(t *testing.T) {
	env := newTestEnv(t)
	env.online = true
	ctx := context.Background()

	env.backend.data["k4"] = []byte("fresh")

	got, err := env.cache.Get(ctx, "k4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "fresh" {
		t.Errorf("Get = %q, want fresh", got)
	}

	if !env.cache.Has("k4") {
		t.Error("remote value not cached in memory")
	}
	stored, err := env.store.GetCacheEntry(ctx, "k4")
	if err != nil {
		t.Fatalf("GetCacheEntry: %v", err)
	}
	if stored.Source != store.SourceNetwork {
		t.Errorf("stored source = %q, want network", stored.Source)
	}
}

func TestGet_RemoteFailureFallsBackToStoredValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Persist while offline, then drop the in-memory layer by making a
	// fresh cache over the same store.
	if err := env.cache.Store(ctx, "k5", []byte("stale"), Options{}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	env.backend.getErr = errors.New("network unreachable")
	fresh := New(env.store, env.backend, func() bool { return true }, nil)

	got, err := fresh.Get(ctx, "k5")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "stale" {
		t.Errorf("Get = %q, want stale fallback", got)
	}
}

func TestGet_EmptyRemotePayloadMeansAbsent(t *testing.T) {
	env := newTestEnv(t)
	env.online = true
	ctx := context.Background()

	env.backend.data["k6"] = []byte{}

	if _, err := env.cache.Get(ctx, "k6"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound for empty payload", err)
	}
}

func TestGet_OfflineReadsPersistentStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.cache.Store(ctx, "k7", []byte("v"), Options{}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	fresh := New(env.store, env.backend, func() bool { return false }, nil)

	got, err := fresh.Get(ctx, "k7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want v", got)
	}
	if env.backend.gets != 0 {
		t.Errorf("backend gets = %d, want 0 while offline", env.backend.gets)
	}
}

func TestSweep_EvictsOnlyExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.cache.Store(ctx, "short", []byte("v"), Options{TTL: 20 * time.Millisecond})
	env.cache.Store(ctx, "long", []byte("v"), Options{TTL: time.Minute})
	env.cache.Store(ctx, "none", []byte("v"), Options{})

	time.Sleep(40 * time.Millisecond)

	if n := env.cache.Sweep(); n != 1 {
		t.Errorf("Sweep = %d, want 1", n)
	}
	if env.cache.Has("short") {
		t.Error("expired entry survived sweep")
	}
	if !env.cache.Has("long") || !env.cache.Has("none") {
		t.Error("live entries evicted by sweep")
	}
}

func TestClear_DropsMemoryAndDisk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.cache.Store(ctx, "a", []byte("v"), Options{})
	env.cache.Store(ctx, "b", []byte("v"), Options{})

	if err := env.cache.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if env.cache.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", env.cache.Len())
	}
	n, err := env.store.CountCacheEntries(ctx)
	if err != nil {
		t.Fatalf("CountCacheEntries: %v", err)
	}
	if n != 0 {
		t.Errorf("stored entries = %d after Clear, want 0", n)
	}
}
