package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/willief/communitas-sub001/internal/metrics"
)

// ContentRecord is a structured domain object (message, channel, ...)
// persisted under a type tag for bulk retrieval.
type ContentRecord struct {
	ID         string
	Type       string
	Content    []byte
	CreatedAt  time.Time
	ModifiedAt time.Time
	Synced     bool
}

// PutContent writes or overwrites a content record by id.
func (s *Store) PutContent(ctx context.Context, r *ContentRecord) error {
	if r.ID == "" {
		return fmt.Errorf("put content: empty id")
	}

	start := time.Now()
	defer func() { metrics.RecordStoreQuery("put_content", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_records (id, type, content, created_at, modified_at, synced)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			content = excluded.content,
			modified_at = excluded.modified_at,
			synced = excluded.synced`,
		r.ID, r.Type, r.Content, millis(r.CreatedAt), millis(r.ModifiedAt), r.Synced)
	if err != nil {
		return fmt.Errorf("put content: %w", err)
	}
	return nil
}

// GetContent returns the record stored under id, or ErrNotFound.
func (s *Store) GetContent(ctx context.Context, id string) (*ContentRecord, error) {
	var (
		r        ContentRecord
		created  int64
		modified int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, content, created_at, modified_at, synced
		 FROM content_records WHERE id = ?`, id).
		Scan(&r.ID, &r.Type, &r.Content, &created, &modified, &r.Synced)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	r.CreatedAt = fromMillis(created)
	r.ModifiedAt = fromMillis(modified)
	return &r, nil
}

// ContentByType returns every record carrying the given type tag.
func (s *Store) ContentByType(ctx context.Context, typ string) ([]*ContentRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQuery("content_by_type", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, content, created_at, modified_at, synced
		 FROM content_records WHERE type = ?`, typ)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	defer rows.Close()

	return scanContentRecords(rows)
}

// AllContent returns every content record, for export.
func (s *Store) AllContent(ctx context.Context) ([]*ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, content, created_at, modified_at, synced FROM content_records`)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	defer rows.Close()

	return scanContentRecords(rows)
}

func scanContentRecords(rows *sql.Rows) ([]*ContentRecord, error) {
	var records []*ContentRecord
	for rows.Next() {
		var (
			r        ContentRecord
			created  int64
			modified int64
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Content, &created, &modified, &r.Synced); err != nil {
			return nil, fmt.Errorf("scan content record: %w", err)
		}
		r.CreatedAt = fromMillis(created)
		r.ModifiedAt = fromMillis(modified)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}

// MarkContentSynced flips the synced flag on a record after its queued
// mutation replayed successfully.
func (s *Store) MarkContentSynced(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content_records SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark content synced: %w", err)
	}
	return nil
}

// DeleteContent removes a record by id.
func (s *Store) DeleteContent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	return nil
}

// CountContent returns the number of stored content records.
func (s *Store) CountContent(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count content: %w", err)
	}
	return n, nil
}
