// Package engine is the offline-first cache and synchronization engine of
// the Communitas client. It serves reads through a layered fallback chain
// (memory, the remote backend, the persistent store), queues mutations
// made while disconnected for replay, and
// reconciles push notifications from the node into local state.
//
// An Engine is constructed explicitly and owned by the application's
// composition root; there is no shared global instance. Init starts the
// background machinery, Close releases every timer and subscription.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/willief/communitas-sub001/internal/cache"
	"github.com/willief/communitas-sub001/internal/connectivity"
	"github.com/willief/communitas-sub001/internal/logging"
	"github.com/willief/communitas-sub001/internal/reconcile"
	"github.com/willief/communitas-sub001/internal/store"
	"github.com/willief/communitas-sub001/internal/syncqueue"
	"github.com/willief/communitas-sub001/pkg/remote"
)

// ErrNotFound is returned when a key, record, or file does not exist.
var ErrNotFound = errors.New("engine: not found")

// ErrInvalidInput is returned for malformed arguments, before any I/O.
var ErrInvalidInput = errors.New("engine: invalid input")

// Config holds engine construction parameters.
type Config struct {
	// DBPath locates the local SQLite database.
	DBPath string

	// UserID scopes subscriptions and the user event channel.
	UserID string

	// PollInterval is the liveness poll period (default 30s).
	PollInterval time.Duration

	// ReconnectInterval is the reconnect check period while disconnected
	// (default 5s).
	ReconnectInterval time.Duration

	// SweepInterval is the expired cache entry sweep period. Zero keeps
	// lazy-only expiry.
	SweepInterval time.Duration

	// MaxReplayAttempts bounds retries per queued mutation (default 3).
	MaxReplayAttempts int

	AutoReconnect bool
}

// Engine is the public facade consumed by UI and business code.
type Engine struct {
	cfg     Config
	backend remote.Backend

	store      *store.Store
	cache      *cache.Cache
	queue      *syncqueue.Manager
	monitor    *connectivity.Monitor
	reconciler *reconcile.Reconciler

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires an engine against the given backend. Call Init before use.
func New(cfg Config, backend remote.Backend) *Engine {
	e := &Engine{cfg: cfg, backend: backend}

	e.monitor = connectivity.NewMonitor(backend.SyncStatus, e.onConnected, connectivity.Config{
		PollInterval:      cfg.PollInterval,
		ReconnectInterval: cfg.ReconnectInterval,
		AutoReconnect:     cfg.AutoReconnect,
	})
	e.reconciler = reconcile.New(backend, e.monitor, cfg.UserID)
	return e
}

// Init opens the local store, restores the pending queue, and starts the
// connectivity monitor, cache sweep and push event pump.
func (e *Engine) Init(ctx context.Context) error {
	if e.cfg.DBPath == "" {
		return fmt.Errorf("%w: empty db path", ErrInvalidInput)
	}

	st, err := store.Open(e.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	e.store = st

	e.queue = syncqueue.New(st, e.replay, e.cfg.MaxReplayAttempts)
	if err := e.queue.Load(ctx); err != nil {
		st.Close()
		return err
	}

	e.cache = cache.New(st, e.backend, e.monitor.Online, e.queue.Enqueue)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	e.monitor.Start(runCtx)
	go e.pumpEvents(runCtx)

	logging.Info("sync engine initialized",
		zap.String("db", e.cfg.DBPath),
		zap.Int("pending_mutations", e.queue.Len()))
	return nil
}

// Close tears the engine down: timers stop, every subscribed entity is
// unsubscribed, and the local store closes. Safe to call once after a
// successful Init.
func (e *Engine) Close(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	e.monitor.Close()
	e.reconciler.Close(ctx)

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			return fmt.Errorf("close local store: %w", err)
		}
	}

	logging.Info("sync engine closed")
	return nil
}

// onConnected drains the queue on each transition into Connected.
func (e *Engine) onConnected(ctx context.Context) {
	e.monitor.SetSyncing(true)
	defer e.monitor.SetSyncing(false)

	if err := e.queue.Drain(ctx); err != nil {
		logging.Warn("queue drain failed", zap.Error(err))
		return
	}
	e.monitor.MarkSynced(time.Now())
}

// replay applies one queued mutation against the backend. Deletes are
// written as empty tombstones; the backend garbage-collects them.
func (e *Engine) replay(ctx context.Context, item *store.QueueItem) error {
	var err error
	switch item.Operation {
	case store.OpDelete:
		err = e.backend.SecurePut(ctx, item.Resource, nil)
	default:
		err = e.backend.SecurePut(ctx, item.Resource, item.Data)
	}
	if err != nil {
		return err
	}

	// Content mutations flip their record's synced flag once durable.
	if id, ok := contentResourceID(item.Resource); ok {
		if err := e.store.MarkContentSynced(ctx, id); err != nil {
			logging.Warn("mark content synced failed",
				zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

// pumpEvents feeds the backend's push stream into the reconciler.
func (e *Engine) pumpEvents(ctx context.Context) {
	defer close(e.done)

	events, errs := e.backend.Events(ctx)
	sweep := e.sweepTicker()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.reconciler.HandleEvent(ctx, ev)
		case err, ok := <-errs:
			if ok && err != nil {
				logging.Debug("event stream error", zap.Error(err))
			}
		case <-sweep.C:
			if n := e.cache.Sweep(); n > 0 {
				logging.Debug("cache sweep", zap.Int("evicted", n))
			}
		}
	}
}

func (e *Engine) sweepTicker() *time.Ticker {
	if e.cfg.SweepInterval > 0 {
		return time.NewTicker(e.cfg.SweepInterval)
	}
	// Lazy-only expiry: park the ticker on a period that never matters.
	t := time.NewTicker(time.Hour)
	t.Stop()
	return t
}

// SetOnline applies a platform online/offline signal.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.monitor.SetOnline(ctx, online)
}

// Online reports whether the engine considers the backend reachable.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// contentResourceID extracts the record id from a content resource path
// of the form "content/<type>/<id>".
func contentResourceID(resource string) (string, bool) {
	parts := strings.Split(resource, "/")
	if len(parts) == 3 && parts[0] == "content" {
		return parts[2], true
	}
	return "", false
}
