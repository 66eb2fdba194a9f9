package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/willief/communitas-sub001/internal/metrics"
)

// Entry source values.
const (
	SourceNetwork = "network"
	SourceLocal   = "local"
)

// CacheEntry is a generic cached value. ExpiresAt is zero when the entry
// never expires. Expiry is enforced by the cache layer, not here.
type CacheEntry struct {
	Key       string
	Data      []byte
	Timestamp time.Time
	ExpiresAt time.Time
	Source    string
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// PutCacheEntry writes or overwrites a cache entry by key.
func (s *Store) PutCacheEntry(ctx context.Context, e *CacheEntry) error {
	if e.Key == "" {
		return fmt.Errorf("put cache entry: empty key")
	}

	start := time.Now()
	defer func() { metrics.RecordStoreQuery("put_cache_entry", time.Since(start)) }()

	var expires sql.NullInt64
	if !e.ExpiresAt.IsZero() {
		expires = sql.NullInt64{Int64: millis(e.ExpiresAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, data, timestamp, expires_at, source)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			timestamp = excluded.timestamp,
			expires_at = excluded.expires_at,
			source = excluded.source`,
		e.Key, e.Data, millis(e.Timestamp), expires, e.Source)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// GetCacheEntry returns the entry stored under key, or ErrNotFound.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQuery("get_cache_entry", time.Since(start)) }()

	var (
		e       CacheEntry
		ts      int64
		expires sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, data, timestamp, expires_at, source FROM cache_entries WHERE key = ?`,
		key).Scan(&e.Key, &e.Data, &ts, &expires, &e.Source)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}

	e.Timestamp = fromMillis(ts)
	if expires.Valid {
		e.ExpiresAt = fromMillis(expires.Int64)
	}
	return &e, nil
}

// CacheEntriesSince returns entries written at or after the given time.
// Order across entries sharing a timestamp is unspecified.
func (s *Store) CacheEntriesSince(ctx context.Context, since time.Time) ([]*CacheEntry, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQuery("cache_entries_since", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data, timestamp, expires_at, source FROM cache_entries WHERE timestamp >= ?`,
		millis(since))
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	return scanCacheEntries(rows)
}

// AllCacheEntries returns every cache entry, for export.
func (s *Store) AllCacheEntries(ctx context.Context) ([]*CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data, timestamp, expires_at, source FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	return scanCacheEntries(rows)
}

func scanCacheEntries(rows *sql.Rows) ([]*CacheEntry, error) {
	var entries []*CacheEntry
	for rows.Next() {
		var (
			e       CacheEntry
			ts      int64
			expires sql.NullInt64
		)
		if err := rows.Scan(&e.Key, &e.Data, &ts, &expires, &e.Source); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		if expires.Valid {
			e.ExpiresAt = fromMillis(expires.Int64)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

// DeleteCacheEntry removes an entry by key. Deleting a missing key is not
// an error.
func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// ClearCacheEntries removes every cache entry.
func (s *Store) ClearCacheEntries(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

// CountCacheEntries returns the number of stored cache entries.
func (s *Store) CountCacheEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
