package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dshills/codevec/internal/writer"
)

// UpsertFile inserts or updates the record for file.Path and returns its id.
// A file that is stored again is about to be re-chunked, so its previous
// chunks are removed in the same transaction.
func (s *Store) UpsertFile(ctx context.Context, file *File) (int64, error) {
	if file == nil || file.Path == "" {
		return 0, errors.New("file path is required")
	}

	id, err := withLockRetry(ctx, s.opts.LockRetries, s.opts.LockRetryBase, func() (int64, error) {
		return writer.Do(ctx, s.queue, func(ctx context.Context, tx *sql.Tx) (int64, error) {
			return upsertFileWithQuerier(ctx, tx, file)
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store file %s: %w", file.Path, err)
	}
	file.ID = id
	return id, nil
}

func upsertFileWithQuerier(ctx context.Context, q querier, file *File) (int64, error) {
	query := `
		INSERT INTO files (path, language, snippet, last_modified, file_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			snippet = excluded.snippet,
			last_modified = excluded.last_modified,
			file_hash = excluded.file_hash,
			updated_at = datetime('now')
		RETURNING id
	`
	var id int64
	err := q.QueryRowContext(ctx, query,
		file.Path, file.Language, file.Snippet, file.LastModified, file.FileHash).Scan(&id)
	if err != nil {
		return 0, err
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE file_id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to clear old chunks: %w", err)
	}
	return id, nil
}

const fileColumns = `id, path, language, snippet, last_modified, file_hash, created_at, updated_at`

func scanFile(row *sql.Row) (*File, error) {
	var (
		f        File
		language sql.NullString
		snippet  sql.NullString
		modTime  sql.NullFloat64
		hash     sql.NullString
		created  sql.NullString
		updated  sql.NullString
	)
	err := row.Scan(&f.ID, &f.Path, &language, &snippet, &modTime, &hash, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	f.Language = language.String
	f.Snippet = snippet.String
	if modTime.Valid {
		v := modTime.Float64
		f.LastModified = &v
	}
	if hash.Valid {
		v := hash.String
		f.FileHash = &v
	}
	f.CreatedAt = parseTimestamp(created.String)
	f.UpdatedAt = parseTimestamp(updated.String)
	return &f, nil
}

// GetFile returns the file record with the given id
func (s *Store) GetFile(ctx context.Context, fileID int64) (*File, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE id = ?", fileID)
	return scanFile(row)
}

// GetFileByPath returns the file record for a project-relative path
func (s *Store) GetFileByPath(ctx context.Context, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE path = ?", path)
	return scanFile(row)
}

// NeedsReindex reports whether path must be processed again. It is true
// when there is no record, when the stored modification time or hash is
// unknown, or when either differs from the given values.
func (s *Store) NeedsReindex(ctx context.Context, path string, modTime float64, hash string) (bool, error) {
	f, err := s.GetFileByPath(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if f.LastModified == nil || f.FileHash == nil {
		return true, nil
	}
	return *f.LastModified != modTime || *f.FileHash != hash, nil
}

// MarkStale forgets the stored content hash of a file so that the next
// incremental run processes it again. Chunks already stored are kept until
// then.
func (s *Store) MarkStale(ctx context.Context, fileID int64) error {
	_, err := withLockRetry(ctx, s.opts.LockRetries, s.opts.LockRetryBase, func() (sql.Result, error) {
		return s.queue.Exec(ctx, "UPDATE files SET file_hash = NULL WHERE id = ?", fileID)
	})
	if err != nil {
		return fmt.Errorf("failed to mark file %d stale: %w", fileID, err)
	}
	return nil
}

// CountChunks returns the number of embedded chunks stored for a file
func (s *Store) CountChunks(ctx context.Context, fileID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE file_id = ? AND embedding IS NOT NULL", fileID).Scan(&n)
	return n, err
}
