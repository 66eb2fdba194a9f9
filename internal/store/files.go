package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/willief/communitas-sub001/internal/metrics"
)

// FileRecord is a binary asset cached for offline access.
type FileRecord struct {
	Path         string
	Content      []byte
	Size         int64
	Metadata     []byte
	DownloadedAt time.Time
}

// PutFile writes or overwrites a file record by path.
func (s *Store) PutFile(ctx context.Context, f *FileRecord) error {
	if f.Path == "" {
		return fmt.Errorf("put file: empty path")
	}

	start := time.Now()
	defer func() { metrics.RecordStoreQuery("put_file", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_records (path, content, size, metadata, downloaded_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			content = excluded.content,
			size = excluded.size,
			metadata = excluded.metadata,
			downloaded_at = excluded.downloaded_at`,
		f.Path, f.Content, f.Size, f.Metadata, millis(f.DownloadedAt))
	if err != nil {
		return fmt.Errorf("put file: %w", err)
	}
	return nil
}

// GetFile returns the record stored under path, or ErrNotFound.
func (s *Store) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQuery("get_file", time.Since(start)) }()

	var (
		f          FileRecord
		downloaded int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT path, content, size, metadata, downloaded_at FROM file_records WHERE path = ?`,
		path).Scan(&f.Path, &f.Content, &f.Size, &f.Metadata, &downloaded)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	f.DownloadedAt = fromMillis(downloaded)
	return &f, nil
}

// FilesDownloadedSince returns files downloaded at or after the given time.
func (s *Store) FilesDownloadedSince(ctx context.Context, since time.Time) ([]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content, size, metadata, downloaded_at
		 FROM file_records WHERE downloaded_at >= ?`, millis(since))
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	return scanFileRecords(rows)
}

// AllFiles returns every file record, for export.
func (s *Store) AllFiles(ctx context.Context) ([]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content, size, metadata, downloaded_at FROM file_records`)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	return scanFileRecords(rows)
}

func scanFileRecords(rows *sql.Rows) ([]*FileRecord, error) {
	var files []*FileRecord
	for rows.Next() {
		var (
			f          FileRecord
			downloaded int64
		)
		if err := rows.Scan(&f.Path, &f.Content, &f.Size, &f.Metadata, &downloaded); err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		f.DownloadedAt = fromMillis(downloaded)
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return files, nil
}

// DeleteFile removes a record by path.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_records WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// CountFiles returns the number of stored file records.
func (s *Store) CountFiles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}
