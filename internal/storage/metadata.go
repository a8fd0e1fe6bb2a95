package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dshills/codevec/internal/writer"
)

const upsertMetadata = `
	INSERT INTO project_metadata (key, value, updated_at)
	VALUES (?, ?, datetime('now'))
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = datetime('now')
`

// GetMetadata returns the value stored under key
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM project_metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return value.String, nil
}

// SetMetadata stores value under key
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := withLockRetry(ctx, s.opts.LockRetries, s.opts.LockRetryBase, func() (sql.Result, error) {
		return s.queue.Exec(ctx, upsertMetadata, key, value)
	})
	if err != nil {
		return fmt.Errorf("failed to store metadata %s: %w", key, err)
	}
	return nil
}

// SetMetadataBatch stores every pair in one transaction
func (s *Store) SetMetadataBatch(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	_, err := withLockRetry(ctx, s.opts.LockRetries, s.opts.LockRetryBase, func() (struct{}, error) {
		return writer.Do(ctx, s.queue, func(ctx context.Context, tx *sql.Tx) (struct{}, error) {
			stmt, err := tx.PrepareContext(ctx, upsertMetadata)
			if err != nil {
				return struct{}{}, err
			}
			defer func() { _ = stmt.Close() }()

			for _, k := range keys {
				if _, err := stmt.ExecContext(ctx, k, values[k]); err != nil {
					return struct{}{}, fmt.Errorf("key %s: %w", k, err)
				}
			}
			return struct{}{}, nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to store metadata batch: %w", err)
	}
	return nil
}

// AllMetadata returns every stored key/value pair
func (s *Store) AllMetadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM project_metadata")
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var (
			k string
			v sql.NullString
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v.String
	}
	return out, rows.Err()
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// parseTimestamp parses a SQLite datetime() value; unknown formats yield
// the zero time.
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
