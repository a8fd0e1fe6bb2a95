package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dshills/codevec/internal/chunker"
	"github.com/dshills/codevec/internal/writer"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the dimension latched for the database
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrVectorExtension is returned when the vector SQL functions are missing
	ErrVectorExtension = errors.New("vector extension unavailable")
	// ErrDatabaseLocked marks a write that kept failing on lock contention
	ErrDatabaseLocked = errors.New("database is locked")
)

// Store is a per-project vector database. Reads go straight to a pooled
// read connection set; every write goes through the store's writer queue.
type Store struct {
	path    string
	db      *sql.DB // readers
	wdb     *sql.DB // writer-owned connections
	queue   *writer.Queue
	chunker *chunker.Chunker
	opts    Options
	logger  *slog.Logger

	dimMu sync.Mutex
	dim   int // 0 until known
}

// connOptions are the per-connection settings encoded into the DSN
type connOptions struct {
	busyTimeout time.Duration
	readOnly    bool
}

// escapePath makes a filesystem path safe inside a file: URI
func escapePath(path string) string {
	r := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
	return r.Replace(filepath.ToSlash(path))
}

// OpenDB opens a SQLite database with WAL, foreign keys and a busy timeout
// configured on every pooled connection.
func OpenDB(path string, busyTimeout time.Duration, readOnly bool) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn(path, connOptions{busyTimeout: busyTimeout, readOnly: readOnly}))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Open opens (creating if needed) the project database at path, applies
// migrations, verifies the vector functions, and starts the writer queue.
// ErrVectorExtension is returned when vector search is not available; there
// is no degraded mode.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	opts.normalize()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	wdb, err := OpenDB(path, opts.BusyTimeout, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, wdb, ProjectMigrations); err != nil {
		_ = wdb.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	db, err := OpenDB(path, opts.BusyTimeout, false)
	if err != nil {
		_ = wdb.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}

	if err := CheckVectorExtension(ctx, db); err != nil {
		_ = db.Close()
		_ = wdb.Close()
		return nil, err
	}

	queue := writer.New(wdb, opts.Writer)
	if err := queue.Start(ctx); err != nil {
		_ = db.Close()
		_ = wdb.Close()
		return nil, fmt.Errorf("failed to start writer: %w", err)
	}

	s := &Store{
		path:    path,
		db:      db,
		wdb:     wdb,
		queue:   queue,
		chunker: chunker.New(opts.ChunkSize, opts.ChunkOverlap),
		opts:    opts,
		logger:  opts.Logger.With("db", filepath.Base(path)),
	}
	if v, err := SchemaVersion(ctx, db); err == nil {
		s.logger.Debug("project database opened", "schema", v, "build_mode", BuildMode)
	}
	return s, nil
}

// CheckVectorExtension verifies that the vector SQL functions are callable
func CheckVectorExtension(ctx context.Context, db *sql.DB) error {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
		return fmt.Errorf("%w (%s build): %v", ErrVectorExtension, BuildMode, err)
	}
	return nil
}

// VectorVersion returns the version reported by the vector functions
func (s *Store) VectorVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version)
	return version, err
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Chunker returns the chunk geometry used by GetChunkText
func (s *Store) Chunker() *chunker.Chunker {
	return s.chunker
}

// Close stops the writer queue, letting queued writes drain, then closes
// both connection pools.
func (s *Store) Close() error {
	s.queue.Stop()
	werr := s.wdb.Close()
	rerr := s.db.Close()
	return errors.Join(werr, rerr)
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
