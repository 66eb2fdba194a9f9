package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/willief/communitas-sub001/internal/metrics"
)

// Queue operation values.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// QueueItem is a mutation recorded while offline, awaiting replay.
// Seq is assigned by the store and fixes the replay order.
type QueueItem struct {
	Seq        int64
	ID         string
	Operation  string
	Resource   string
	Data       []byte
	Timestamp  time.Time
	RetryCount int
}

// AppendQueueItem persists a new queue item at the tail of the queue.
func (s *Store) AppendQueueItem(ctx context.Context, item *QueueItem) error {
	if item.ID == "" {
		return fmt.Errorf("append queue item: empty id")
	}

	start := time.Now()
	defer func() { metrics.RecordStoreQuery("append_queue_item", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (id, operation, resource, data, timestamp, retry_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.Operation, item.Resource, item.Data, millis(item.Timestamp), item.RetryCount)
	if err != nil {
		return fmt.Errorf("append queue item: %w", err)
	}

	if seq, err := res.LastInsertId(); err == nil {
		item.Seq = seq
	}
	return nil
}

// QueueItems returns all pending items in insertion order.
func (s *Store) QueueItems(ctx context.Context) ([]*QueueItem, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQuery("queue_items", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, operation, resource, data, timestamp, retry_count
		 FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// QueueItemsSince returns items recorded at or after the given time, in
// insertion order.
func (s *Store) QueueItemsSince(ctx context.Context, since time.Time) ([]*QueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, operation, resource, data, timestamp, retry_count
		 FROM sync_queue WHERE timestamp >= ? ORDER BY seq`, millis(since))
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

func scanQueueItems(rows *sql.Rows) ([]*QueueItem, error) {
	var items []*QueueItem
	for rows.Next() {
		var (
			item QueueItem
			ts   int64
		)
		if err := rows.Scan(&item.Seq, &item.ID, &item.Operation, &item.Resource,
			&item.Data, &ts, &item.RetryCount); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item.Timestamp = fromMillis(ts)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

// UpdateQueueRetryCount persists a new retry count after a failed replay.
func (s *Store) UpdateQueueRetryCount(ctx context.Context, id string, retryCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = ? WHERE id = ?`, retryCount, id)
	if err != nil {
		return fmt.Errorf("update queue retry count: %w", err)
	}
	return nil
}

// DeleteQueueItem removes a replayed or dropped item.
func (s *Store) DeleteQueueItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	return nil
}

// QueueLength returns the number of pending items.
func (s *Store) QueueLength(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
