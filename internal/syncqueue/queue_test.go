package syncqueue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/willief/communitas-sub001/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEnqueue_IncrementsLengthByOne(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := New(st, func(ctx context.Context, item *store.QueueItem) error { return nil }, 0)
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := m.Enqueue(ctx, store.OpCreate, "k2", []byte("v")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}

	// The item must be durable, not just in memory.
	n, err := st.QueueLength(ctx)
	if err != nil {
		t.Fatalf("QueueLength: %v", err)
	}
	if n != 1 {
		t.Errorf("stored length = %d, want 1", n)
	}
}

func TestLoad_RestoresPendingItems(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first := New(st, func(ctx context.Context, item *store.QueueItem) error { return nil }, 0)
	first.Load(ctx)
	first.Enqueue(ctx, store.OpCreate, "a", nil)
	first.Enqueue(ctx, store.OpUpdate, "b", nil)

	second := New(st, func(ctx context.Context, item *store.QueueItem) error { return nil }, 0)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if second.Len() != 2 {
		t.Errorf("Len after restore = %d, want 2", second.Len())
	}
}

func TestDrain_ReplaysEachItemOnceInOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var replayed []string
	m := New(st, func(ctx context.Context, item *store.QueueItem) error {
		replayed = append(replayed, item.Resource)
		return nil
	}, 0)
	m.Load(ctx)

	for _, r := range []string{"x", "y", "z"} {
		m.Enqueue(ctx, store.OpCreate, r, nil)
	}

	if err := m.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if m.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", m.Len())
	}
	if len(replayed) != 3 {
		t.Fatalf("replayed %d items, want 3", len(replayed))
	}
	for i, want := range []string{"x", "y", "z"} {
		if replayed[i] != want {
			t.Errorf("replayed[%d] = %q, want %q", i, replayed[i], want)
		}
	}

	n, _ := st.QueueLength(ctx)
	if n != 0 {
		t.Errorf("stored length after drain = %d, want 0", n)
	}
}

func TestDrain_RetryBoundDropsAfterThreeFailures(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	attempts := 0
	m := New(st, func(ctx context.Context, item *store.QueueItem) error {
		attempts++
		return errors.New("backend unreachable")
	}, 3)
	m.Load(ctx)
	m.Enqueue(ctx, store.OpCreate, "doomed", []byte("v"))

	// First two drains fail but keep the item queued.
	for i := 1; i <= 2; i++ {
		m.Drain(ctx)
		if m.Len() != 1 {
			t.Fatalf("Len after drain %d = %d, want 1", i, m.Len())
		}
	}

	// Third failure exhausts the bound and drops the item.
	m.Drain(ctx)
	if m.Len() != 0 {
		t.Fatalf("Len after third failure = %d, want 0", m.Len())
	}
	if attempts != 3 {
		t.Errorf("replay attempts = %d, want exactly 3", attempts)
	}

	n, _ := st.QueueLength(ctx)
	if n != 0 {
		t.Errorf("stored length = %d, want 0 after drop", n)
	}
}

func TestDrain_PartialFailureKeepsOnlyFailedItems(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := New(st, func(ctx context.Context, item *store.QueueItem) error {
		if item.Resource == "bad" {
			return errors.New("rejected")
		}
		return nil
	}, 3)
	m.Load(ctx)
	m.Enqueue(ctx, store.OpCreate, "good", nil)
	m.Enqueue(ctx, store.OpCreate, "bad", nil)
	m.Enqueue(ctx, store.OpCreate, "good2", nil)

	m.Drain(ctx)

	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	items, err := st.QueueItems(ctx)
	if err != nil {
		t.Fatalf("QueueItems: %v", err)
	}
	if len(items) != 1 || items[0].Resource != "bad" {
		t.Errorf("remaining item = %+v, want the failed one", items)
	}
	if items[0].RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", items[0].RetryCount)
	}
}

func TestDrain_GuardPreventsConcurrentDrains(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	replays := 0

	m := New(st, func(ctx context.Context, item *store.QueueItem) error {
		mu.Lock()
		replays++
		mu.Unlock()
		close(started)
		<-release
		return nil
	}, 0)
	m.Load(ctx)
	m.Enqueue(ctx, store.OpCreate, "slow", nil)

	done := make(chan error)
	go func() { done <- m.Drain(ctx) }()

	<-started
	if !m.Draining() {
		t.Error("Draining = false while a drain is in flight")
	}

	// Second drain must bail out without touching the item.
	if err := m.Drain(ctx); err != nil {
		t.Fatalf("concurrent Drain: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Drain: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if replays != 1 {
		t.Errorf("item replayed %d times, want 1", replays)
	}
}

func TestDrain_EmptyQueueIsNoop(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := New(st, func(ctx context.Context, item *store.QueueItem) error {
		t.Fatal("replay called on empty queue")
		return nil
	}, 0)
	m.Load(ctx)

	if err := m.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}
