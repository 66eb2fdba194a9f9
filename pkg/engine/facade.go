package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/willief/communitas-sub001/internal/cache"
	"github.com/willief/communitas-sub001/internal/logging"
	"github.com/willief/communitas-sub001/internal/store"
	"github.com/willief/communitas-sub001/pkg/remote"
)

// StoreOptions control a Store call.
type StoreOptions struct {
	// TTL marks the cached value stale after the given duration.
	TTL time.Duration

	// Encrypt stores the value on the backend's encrypted path.
	Encrypt bool

	// SyncOnline requests durability on the remote backend; while offline
	// the mutation is queued for replay.
	SyncOnline bool
}

// Store caches a value under key. The value is serialized as JSON.
func (e *Engine) Store(ctx context.Context, key string, value any, opts StoreOptions) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidInput)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	return e.cache.Store(ctx, key, data, cache.Options{
		TTL:        opts.TTL,
		SyncOnline: opts.SyncOnline,
		Encrypt:    opts.Encrypt,
	})
}

// Get reads the freshest available value for key into out, which must be
// a pointer. Returns ErrNotFound when no live value exists anywhere.
func (e *Engine) Get(ctx context.Context, key string, out any) error {
	data, err := e.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

// GetRaw reads the raw serialized value for key.
func (e *Engine) GetRaw(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidInput)
	}

	data, err := e.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

// ContentRecord is a stored domain object returned by GetContentByType.
type ContentRecord struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	CreatedAt  time.Time       `json:"created_at"`
	ModifiedAt time.Time       `json:"modified_at"`
	Synced     bool            `json:"synced"`
}

// StoreContent persists a structured domain object under a type tag and
// returns its generated id. While offline the content is queued for replay
// and marked unsynced; when online it is pushed to the backend directly.
func (e *Engine) StoreContent(ctx context.Context, typ string, content any) (string, error) {
	if typ == "" {
		return "", fmt.Errorf("%w: empty content type", ErrInvalidInput)
	}

	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}

	now := time.Now()
	rec := &store.ContentRecord{
		ID:         uuid.NewString(),
		Type:       typ,
		Content:    data,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	resource := contentResource(typ, rec.ID)

	// The local record lands first; a mutation must never replay against
	// the backend for content that was never stored locally.
	if err := e.store.PutContent(ctx, rec); err != nil {
		return "", err
	}

	if e.monitor.Online() {
		if err := e.backend.SecurePut(ctx, resource, data); err != nil {
			logging.Warn("remote content put failed, queueing mutation",
				zap.String("resource", resource), zap.Error(err))
			if err := e.queue.Enqueue(ctx, store.OpCreate, resource, data); err != nil {
				return "", err
			}
		} else {
			rec.Synced = true
			if err := e.store.MarkContentSynced(ctx, rec.ID); err != nil {
				logging.Warn("mark content synced failed",
					zap.String("id", rec.ID), zap.Error(err))
			}
		}
	} else {
		if err := e.queue.Enqueue(ctx, store.OpCreate, resource, data); err != nil {
			return "", err
		}
	}

	return rec.ID, nil
}

// GetContentByType returns every stored record carrying the type tag.
func (e *Engine) GetContentByType(ctx context.Context, typ string) ([]ContentRecord, error) {
	if typ == "" {
		return nil, fmt.Errorf("%w: empty content type", ErrInvalidInput)
	}

	rows, err := e.store.ContentByType(ctx, typ)
	if err != nil {
		return nil, err
	}

	records := make([]ContentRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, ContentRecord{
			ID:         r.ID,
			Type:       r.Type,
			Content:    json.RawMessage(r.Content),
			CreatedAt:  r.CreatedAt,
			ModifiedAt: r.ModifiedAt,
			Synced:     r.Synced,
		})
	}
	return records, nil
}

// FileRecord is a cached binary asset.
type FileRecord struct {
	Path         string            `json:"path"`
	Content      []byte            `json:"content"`
	Size         int64             `json:"size"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	DownloadedAt time.Time         `json:"downloaded_at"`
}

// StoreFile caches a binary asset for offline access.
func (e *Engine) StoreFile(ctx context.Context, path string, content []byte, metadata map[string]string) error {
	if path == "" {
		return fmt.Errorf("%w: empty file path", ErrInvalidInput)
	}

	var meta []byte
	if len(metadata) > 0 {
		var err error
		meta, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	return e.store.PutFile(ctx, &store.FileRecord{
		Path:         path,
		Content:      content,
		Size:         int64(len(content)),
		Metadata:     meta,
		DownloadedAt: time.Now(),
	})
}

// GetFile returns a cached binary asset, or ErrNotFound.
func (e *Engine) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrInvalidInput)
	}

	f, err := e.store.GetFile(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &FileRecord{
		Path:         f.Path,
		Content:      f.Content,
		Size:         f.Size,
		DownloadedAt: f.DownloadedAt,
	}
	if len(f.Metadata) > 0 {
		if err := json.Unmarshal(f.Metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, nil
}

// ClearCache drops the generic cache, in memory and on disk. Content,
// files and the pending queue are untouched.
func (e *Engine) ClearCache(ctx context.Context) error {
	return e.cache.Clear(ctx)
}

// Export is the serialized form of all local collections.
type Export struct {
	ExportedAt time.Time         `json:"exported_at"`
	Cache      []ExportCacheItem `json:"cache"`
	Content    []ContentRecord   `json:"content"`
	Files      []FileRecord      `json:"files"`
	Queue      []ExportQueueItem `json:"queue"`
}

// ExportCacheItem is one cache entry in an export blob.
type ExportCacheItem struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Source    string          `json:"source"`
}

// ExportQueueItem is one pending mutation in an export blob.
type ExportQueueItem struct {
	ID         string          `json:"id"`
	Operation  string          `json:"operation"`
	Resource   string          `json:"resource"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retry_count"`
}

// ExportData serializes every collection plus the pending queue into a
// single JSON blob.
func (e *Engine) ExportData(ctx context.Context) ([]byte, error) {
	exp := Export{ExportedAt: time.Now()}

	entries, err := e.store.AllCacheEntries(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		item := ExportCacheItem{
			Key:       entry.Key,
			Data:      json.RawMessage(entry.Data),
			Timestamp: entry.Timestamp,
			Source:    entry.Source,
		}
		if !entry.ExpiresAt.IsZero() {
			t := entry.ExpiresAt
			item.ExpiresAt = &t
		}
		exp.Cache = append(exp.Cache, item)
	}

	content, err := e.store.AllContent(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range content {
		exp.Content = append(exp.Content, ContentRecord{
			ID:         r.ID,
			Type:       r.Type,
			Content:    json.RawMessage(r.Content),
			CreatedAt:  r.CreatedAt,
			ModifiedAt: r.ModifiedAt,
			Synced:     r.Synced,
		})
	}

	files, err := e.store.AllFiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		rec := FileRecord{
			Path:         f.Path,
			Content:      f.Content,
			Size:         f.Size,
			DownloadedAt: f.DownloadedAt,
		}
		if len(f.Metadata) > 0 {
			if err := json.Unmarshal(f.Metadata, &rec.Metadata); err != nil {
				logging.Warn("file metadata corrupt, exporting without it",
					zap.String("path", f.Path), zap.Error(err))
			}
		}
		exp.Files = append(exp.Files, rec)
	}

	items, err := e.store.QueueItems(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		exp.Queue = append(exp.Queue, ExportQueueItem{
			ID:         item.ID,
			Operation:  item.Operation,
			Resource:   item.Resource,
			Data:       json.RawMessage(item.Data),
			Timestamp:  item.Timestamp,
			RetryCount: item.RetryCount,
		})
	}

	return json.MarshalIndent(exp, "", "  ")
}

// Stats is a point-in-time view of engine state.
type Stats struct {
	CacheEntries   int       `json:"cache_entries"`
	ContentRecords int       `json:"content_records"`
	FileRecords    int       `json:"file_records"`
	QueueLength    int       `json:"queue_length"`
	Connectivity   string    `json:"connectivity"`
	Syncing        bool      `json:"syncing"`
	PeerCount      int       `json:"peer_count"`
	LastSync       time.Time `json:"last_sync,omitzero"`
	Subscriptions  int       `json:"subscriptions"`
}

// GetStats reports cache size, queue length, connectivity, and record
// counts.
func (e *Engine) GetStats(ctx context.Context) (Stats, error) {
	snap := e.monitor.Snapshot()

	contentCount, err := e.store.CountContent(ctx)
	if err != nil {
		return Stats{}, err
	}
	fileCount, err := e.store.CountFiles(ctx)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		CacheEntries:   e.cache.Len(),
		ContentRecords: contentCount,
		FileRecords:    fileCount,
		QueueLength:    e.queue.Len(),
		Connectivity:   snap.State.String(),
		Syncing:        snap.Syncing,
		PeerCount:      snap.PeerCount,
		LastSync:       snap.LastSync,
		Subscriptions:  len(e.reconciler.Subscribed()),
	}, nil
}

// SubscribeToEntity registers interest in push events for an entity.
func (e *Engine) SubscribeToEntity(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidInput)
	}
	return e.reconciler.Subscribe(ctx, entityID)
}

// UnsubscribeFromEntity removes interest in an entity.
func (e *Engine) UnsubscribeFromEntity(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidInput)
	}
	return e.reconciler.Unsubscribe(ctx, entityID)
}

// ReconcileSubscriptions converges the remote subscription set to the
// desired entity list.
func (e *Engine) ReconcileSubscriptions(ctx context.Context, desired []string) error {
	return e.reconciler.Reconcile(ctx, desired)
}

// Subscriptions returns the entity ids currently subscribed.
func (e *Engine) Subscriptions() []string {
	return e.reconciler.Subscribed()
}

// OnEvent registers the consumer callback for domain push events.
// Connectivity events never reach it; the engine applies those itself.
func (e *Engine) OnEvent(cb func(remote.PushEvent)) {
	e.reconciler.SetCallback(cb)
}

// PendingEvents returns domain events awaiting consumer processing.
func (e *Engine) PendingEvents() []remote.PushEvent {
	return e.reconciler.Pending()
}

// ClearPendingEvents acknowledges processed events.
func (e *Engine) ClearPendingEvents() {
	e.reconciler.ClearPending()
}

func contentResource(typ, id string) string {
	return "content/" + typ + "/" + id
}
