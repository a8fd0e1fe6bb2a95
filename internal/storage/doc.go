// Package storage provides the per-project SQLite vector store.
//
// Each indexed project owns one database file with four tables:
//   - files: one row per indexed file (relative path, language, snippet,
//     modification time and content hash)
//   - chunks: one row per embedded chunk, holding only the vector; the
//     chunk text is re-derived from disk on demand
//   - vector_meta: the latched embedding dimension
//   - project_metadata: free-form key/value progress and summary data
//
// # Writes
//
// Reads use a pooled connection set. Every write is submitted to a
// writer.Queue that owns its own connections, so the database sees at most
// a fixed number of writers. Writes that still hit "database is locked" are
// retried with exponential backoff before ErrDatabaseLocked is returned.
//
// # Dimension
//
// The first vector inserted into a database fixes its dimension. Later
// inserts of any other length fail with ErrDimensionMismatch and leave the
// database unchanged. ClearProjectData resets the latch.
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3 with the
// native sqlite-vec extension:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go build (default, or purego tag) uses modernc.org/sqlite with the
// vector functions implemented in Go:
//
//	CGO_ENABLED=0 go build -tags "purego"
//
// Open fails with ErrVectorExtension when the vector functions are missing.
package storage
