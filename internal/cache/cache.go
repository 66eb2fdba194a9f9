// Package cache serves reads through a layered fallback chain (memory,
// then the remote backend, then the persistent store) and enforces
// per-entry TTL.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/willief/communitas-sub001/internal/logging"
	"github.com/willief/communitas-sub001/internal/metrics"
	"github.com/willief/communitas-sub001/internal/store"
	"github.com/willief/communitas-sub001/pkg/remote"
)

// ErrNotFound is returned when no live value exists in any layer.
var ErrNotFound = errors.New("cache: key not found")

// Options control a single store operation.
type Options struct {
	// TTL marks the entry stale after the given duration. Zero means no
	// expiry.
	TTL time.Duration

	// SyncOnline requests durability on the remote backend. While offline
	// this queues a mutation for replay instead.
	SyncOnline bool

	// Encrypt asks the backend to store the value on the encrypted path.
	// The backend owns the cryptography; locally this is a pass-through
	// marker.
	Encrypt bool
}

// Enqueue records an offline mutation for later replay.
type Enqueue func(ctx context.Context, operation, resource string, data []byte) error

// Cache is the in-memory index over the persistent store, with remote
// read-through when online. The cache is the sole mutator of its map.
type Cache struct {
	store   *store.Store
	backend remote.Backend
	online  func() bool
	enqueue Enqueue

	mu      sync.RWMutex
	entries map[string]*store.CacheEntry
}

// New creates a cache over the given persistent store and backend.
// online reports current connectivity; enqueue records offline mutations.
func New(st *store.Store, backend remote.Backend, online func() bool, enqueue Enqueue) *Cache {
	return &Cache{
		store:   st,
		backend: backend,
		online:  online,
		enqueue: enqueue,
		entries: make(map[string]*store.CacheEntry),
	}
}

// Store writes the value to memory and the persistent store. When offline
// with SyncOnline set, a create mutation is queued; when online, the value
// is pushed to the backend best-effort (a push failure degrades to a queued
// mutation rather than failing the local write).
func (c *Cache) Store(ctx context.Context, key string, data []byte, opts Options) error {
	now := time.Now()
	entry := &store.CacheEntry{
		Key:       key,
		Data:      data,
		Timestamp: now,
		Source:    store.SourceLocal,
	}
	if opts.TTL > 0 {
		entry.ExpiresAt = now.Add(opts.TTL)
	}

	if err := c.store.PutCacheEntry(ctx, entry); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[key] = entry
	metrics.SetCacheEntriesActive(len(c.entries))
	c.mu.Unlock()

	if !opts.SyncOnline {
		return nil
	}

	if c.online() {
		if err := c.backend.SecurePut(ctx, key, data); err != nil {
			logging.Warn("remote put failed, queueing mutation",
				zap.String("key", key), zap.Error(err))
			return c.enqueue(ctx, store.OpCreate, key, data)
		}
		return nil
	}

	return c.enqueue(ctx, store.OpCreate, key, data)
}

// Get serves the freshest available value for key. Memory is consulted
// first; an expired entry is evicted and the read falls through. When
// online, the backend is tried next and a hit repopulates both layers.
// The persistent store is the last resort (stale-but-available on remote
// failure). Returns ErrNotFound when no layer has a live value.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if !entry.Expired(now) {
			metrics.RecordCacheHit("memory")
			return entry.Data, nil
		}
		c.evict(key, "read")
	}

	if c.online() {
		data, err := c.backend.SecureGet(ctx, key)
		switch {
		case err == nil:
			// An empty payload is a value that does not exist yet, not
			// data to decode.
			if len(data) == 0 {
				return c.getStored(ctx, key, now)
			}
			fresh := &store.CacheEntry{
				Key:       key,
				Data:      data,
				Timestamp: now,
				Source:    store.SourceNetwork,
			}
			if err := c.store.PutCacheEntry(ctx, fresh); err != nil {
				logging.Warn("cache repopulate failed", zap.String("key", key), zap.Error(err))
			}
			c.mu.Lock()
			c.entries[key] = fresh
			metrics.SetCacheEntriesActive(len(c.entries))
			c.mu.Unlock()
			metrics.RecordCacheHit("remote")
			return data, nil
		case errors.Is(err, remote.ErrNotFound):
			return c.getStored(ctx, key, now)
		default:
			logging.Debug("remote get failed, falling back to store",
				zap.String("key", key), zap.Error(err))
			return c.getStored(ctx, key, now)
		}
	}

	return c.getStored(ctx, key, now)
}

// getStored reads the persistent store, still honoring expiry: a stale
// entry must never be returned as valid.
func (c *Cache) getStored(ctx context.Context, key string, now time.Time) ([]byte, error) {
	entry, err := c.store.GetCacheEntry(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordCacheMiss()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if entry.Expired(now) {
		metrics.RecordCacheMiss()
		return nil, ErrNotFound
	}

	c.mu.Lock()
	c.entries[key] = entry
	metrics.SetCacheEntriesActive(len(c.entries))
	c.mu.Unlock()

	metrics.RecordCacheHit("disk")
	return entry.Data, nil
}

func (c *Cache) evict(key, trigger string) {
	c.mu.Lock()
	delete(c.entries, key)
	metrics.SetCacheEntriesActive(len(c.entries))
	c.mu.Unlock()
	metrics.RecordCacheEviction(trigger)
}

// Sweep evicts every expired in-memory entry and returns how many were
// removed. Intended to run periodically so stale entries don't accumulate
// between reads.
func (c *Cache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			count++
			metrics.RecordCacheEviction("sweep")
		}
	}
	metrics.SetCacheEntriesActive(len(c.entries))
	return count
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Has reports whether key is present and live in memory.
func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return ok && !entry.Expired(time.Now())
}

// Clear drops the in-memory index and the persisted cache collection.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.ClearCacheEntries(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries = make(map[string]*store.CacheEntry)
	metrics.SetCacheEntriesActive(0)
	c.mu.Unlock()
	return nil
}
