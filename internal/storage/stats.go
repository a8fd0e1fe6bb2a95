package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dshills/codevec/internal/writer"
	"github.com/dshills/codevec/pkg/types"
)

// Stats returns the file count and the number of embedded chunks
func (s *Store) Stats(ctx context.Context) (types.ProjectStats, error) {
	return readStats(ctx, s.db)
}

func readStats(ctx context.Context, q querier) (types.ProjectStats, error) {
	var st types.ProjectStats
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&st.FileCount); err != nil {
		return st, fmt.Errorf("failed to count files: %w", err)
	}
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL").Scan(&st.EmbeddingCount)
	if err != nil {
		return st, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return st, nil
}

// ReadStats opens the database at dbPath read-only and returns its counts.
// A missing file yields ErrNotFound; a database without the project tables
// yields zero counts.
func ReadStats(ctx context.Context, dbPath string) (types.ProjectStats, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.ProjectStats{}, fmt.Errorf("%w: %s", ErrNotFound, dbPath)
		}
		return types.ProjectStats{}, err
	}

	db, err := OpenDB(dbPath, 5*time.Second, true)
	if err != nil {
		return types.ProjectStats{}, fmt.Errorf("failed to open %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	st, err := readStats(ctx, db)
	if err != nil && strings.Contains(err.Error(), "no such table") {
		return types.ProjectStats{}, nil
	}
	return st, err
}

// ClearProjectData removes every file, chunk and the latched dimension so the
// project can be indexed from scratch, possibly with a different embedder.
// Project metadata is kept.
func (s *Store) ClearProjectData(ctx context.Context) error {
	_, err := withLockRetry(ctx, s.opts.LockRetries, s.opts.LockRetryBase, func() (struct{}, error) {
		return writer.Do(ctx, s.queue, func(ctx context.Context, tx *sql.Tx) (struct{}, error) {
			for _, stmt := range []string{
				"DELETE FROM chunks",
				"DELETE FROM files",
				"DELETE FROM vector_meta WHERE key = 'dimension'",
			} {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to clear project data: %w", err)
	}

	s.setDimension(0)
	s.logger.Info("project data cleared")
	return nil
}
