package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/dshills/codevec/internal/chunker"
	"github.com/dshills/codevec/internal/writer"
	"github.com/dshills/codevec/pkg/types"
)

// Storage defines the operations the indexing pipeline and searcher perform
// against one project database
type Storage interface {
	// File operations
	UpsertFile(ctx context.Context, file *File) (int64, error)
	GetFile(ctx context.Context, fileID int64) (*File, error)
	GetFileByPath(ctx context.Context, path string) (*File, error)
	NeedsReindex(ctx context.Context, path string, modTime float64, hash string) (bool, error)
	MarkStale(ctx context.Context, fileID int64) error

	// Vector operations
	InsertChunkVector(ctx context.Context, fileID int64, path string, chunkIndex int, vector []float32) (int64, error)
	SearchVectors(ctx context.Context, query []float32, topK int) ([]VectorMatch, error)
	GetChunkText(ctx context.Context, fileID int64, chunkIndex int) (string, error)
	Dimension(ctx context.Context) (int, error)

	// Project metadata
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
	SetMetadataBatch(ctx context.Context, values map[string]string) error
	AllMetadata(ctx context.Context) (map[string]string, error)

	// Maintenance
	Stats(ctx context.Context) (types.ProjectStats, error)
	ClearProjectData(ctx context.Context) error

	Path() string
	Close() error
}

// File is a row in the files table. Path is relative to the project root.
type File struct {
	ID           int64
	Path         string
	Language     string
	Snippet      string
	LastModified *float64 // Unix seconds; nil when unknown
	FileHash     *string  // Hex SHA-256 of the full content; nil when unknown
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VectorMatch is one nearest-neighbor hit
type VectorMatch struct {
	FileID     int64
	Path       string
	ChunkIndex int
	Distance   float64
	Score      float64 // 1 - Distance
}

// Options configures a Store
type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	BusyTimeout   time.Duration
	LockRetries   int           // Attempts for writes hitting "database is locked"
	LockRetryBase time.Duration // First backoff; doubles per attempt
	Writer        writer.Config
	Logger        *slog.Logger
}

// DefaultOptions returns the standard store settings
func DefaultOptions() Options {
	return Options{
		ChunkSize:     chunker.DefaultSize,
		ChunkOverlap:  chunker.DefaultOverlap,
		BusyTimeout:   30 * time.Second,
		LockRetries:   6,
		LockRetryBase: 50 * time.Millisecond,
		Writer:        writer.DefaultConfig(),
	}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
		o.ChunkOverlap = d.ChunkOverlap
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = d.BusyTimeout
	}
	if o.LockRetries <= 0 {
		o.LockRetries = d.LockRetries
	}
	if o.LockRetryBase <= 0 {
		o.LockRetryBase = d.LockRetryBase
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Writer.Logger == nil {
		o.Writer.Logger = o.Logger
	}
	if o.Writer.BusyTimeout <= 0 {
		o.Writer.BusyTimeout = o.BusyTimeout
	}
}
