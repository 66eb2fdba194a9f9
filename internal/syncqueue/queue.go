// Package syncqueue replays mutations recorded while offline against the
// remote backend, with bounded retries.
package syncqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/willief/communitas-sub001/internal/logging"
	"github.com/willief/communitas-sub001/internal/metrics"
	"github.com/willief/communitas-sub001/internal/store"
)

// DefaultMaxAttempts is how many failed replays an item survives before it
// is dropped. Dropping loses the mutation; the drop is logged and counted
// so it is never silent.
const DefaultMaxAttempts = 3

// Replay attempts to apply a single queued mutation to the backend.
// A nil return removes the item from the queue.
type Replay func(ctx context.Context, item *store.QueueItem) error

// Manager owns the pending mutation queue. Items persist across restarts;
// the in-memory view is loaded from the store on startup.
type Manager struct {
	store       *store.Store
	replay      Replay
	maxAttempts int

	mu       sync.Mutex
	items    []*store.QueueItem
	draining bool
}

// New creates a queue manager. maxAttempts <= 0 selects DefaultMaxAttempts.
func New(st *store.Store, replay Replay, maxAttempts int) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Manager{
		store:       st,
		replay:      replay,
		maxAttempts: maxAttempts,
	}
}

// Load restores pending items from the persistent store, oldest first.
func (m *Manager) Load(ctx context.Context) error {
	items, err := m.store.QueueItems(ctx)
	if err != nil {
		return fmt.Errorf("load sync queue: %w", err)
	}

	m.mu.Lock()
	m.items = items
	metrics.SetSyncQueueDepth(len(m.items))
	m.mu.Unlock()

	if len(items) > 0 {
		logging.Info("sync queue restored", zap.Int("pending", len(items)))
	}
	return nil
}

// Enqueue appends a mutation to the queue and persists it.
func (m *Manager) Enqueue(ctx context.Context, operation, resource string, data []byte) error {
	item := &store.QueueItem{
		ID:        uuid.NewString(),
		Operation: operation,
		Resource:  resource,
		Data:      data,
		Timestamp: time.Now(),
	}

	if err := m.store.AppendQueueItem(ctx, item); err != nil {
		return err
	}

	m.mu.Lock()
	m.items = append(m.items, item)
	depth := len(m.items)
	m.mu.Unlock()

	metrics.SetSyncQueueDepth(depth)
	logging.Debug("mutation queued",
		zap.String("operation", operation),
		zap.String("resource", resource),
		zap.Int("depth", depth))
	return nil
}

// Len returns the number of pending items.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Draining reports whether a drain is currently in flight.
func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Drain replays pending items in insertion order. Replays run sequentially
// so per-resource ordering holds. Only one drain runs at a time: concurrent
// callers (connectivity transition, liveness poll) return immediately while
// another drain is in flight, which keeps any item from replaying twice.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil
	}
	m.draining = true
	snapshot := make([]*store.QueueItem, len(m.items))
	copy(snapshot, m.items)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	if len(snapshot) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { metrics.RecordDrainDuration(time.Since(start)) }()

	logging.Info("draining sync queue", zap.Int("pending", len(snapshot)))

	var firstErr error
	for _, item := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := m.replay(ctx, item)
		if err == nil {
			if err := m.remove(ctx, item.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			metrics.RecordQueueReplayed()
			continue
		}

		item.RetryCount++
		if item.RetryCount >= m.maxAttempts {
			// Best-effort policy: drop rather than grow without bound.
			logging.Warn("dropping mutation after retry exhaustion",
				zap.String("id", item.ID),
				zap.String("operation", item.Operation),
				zap.String("resource", item.Resource),
				zap.Int("attempts", item.RetryCount),
				zap.Error(err))
			metrics.RecordQueueDropped()
			if err := m.remove(ctx, item.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		logging.Debug("replay failed, keeping item queued",
			zap.String("id", item.ID),
			zap.String("resource", item.Resource),
			zap.Int("attempts", item.RetryCount),
			zap.Error(err))
		if err := m.store.UpdateQueueRetryCount(ctx, item.ID, item.RetryCount); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.mu.Lock()
	depth := len(m.items)
	m.mu.Unlock()
	metrics.SetSyncQueueDepth(depth)

	logging.Info("sync queue drain finished", zap.Int("remaining", depth))
	return firstErr
}

// remove deletes an item from both the store and the in-memory view.
func (m *Manager) remove(ctx context.Context, id string) error {
	if err := m.store.DeleteQueueItem(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	for i, item := range m.items {
		if item.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	metrics.SetSyncQueueDepth(len(m.items))
	m.mu.Unlock()
	return nil
}
