package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/dshills/codevec/internal/writer"
)

const (
	// DistanceMetric is the metric the vector index is initialized with
	DistanceMetric = "cosine"
	// ElementType is the stored vector element type
	ElementType = "float32"

	dimensionKey = "dimension"
)

// Dimension returns the vector dimension latched for this database, or 0
// when nothing has been inserted yet.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	s.dimMu.Lock()
	dim := s.dim
	s.dimMu.Unlock()
	if dim > 0 {
		return dim, nil
	}

	dim, err := readDimension(ctx, s.db)
	if err != nil {
		return 0, err
	}
	if dim > 0 {
		s.setDimension(dim)
	}
	return dim, nil
}

func (s *Store) setDimension(dim int) {
	s.dimMu.Lock()
	s.dim = dim
	s.dimMu.Unlock()
}

func readDimension(ctx context.Context, q querier) (int, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM vector_meta WHERE key = ?", dimensionKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read vector dimension: %w", err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid stored dimension %q: %w", value, err)
	}
	return dim, nil
}

// InsertChunkVector stores one embedded chunk and returns its row id.
//
// The first insert into a database records the vector length as the fixed
// dimension and initializes the vector index. Every later insert must match
// it; a mismatch fails with ErrDimensionMismatch and changes nothing.
// Writes that hit lock contention are retried with exponential backoff.
func (s *Store) InsertChunkVector(ctx context.Context, fileID int64, path string, chunkIndex int, vector []float32) (int64, error) {
	dim := len(vector)
	if dim == 0 {
		return 0, errors.New("cannot insert an empty vector")
	}

	s.dimMu.Lock()
	cached := s.dim
	s.dimMu.Unlock()
	if cached > 0 && cached != dim {
		s.logger.Error("embedding dimension mismatch", "stored", cached, "new", dim, "path", path)
		return 0, fmt.Errorf("%w: stored=%d, new=%d", ErrDimensionMismatch, cached, dim)
	}

	blob, err := encodeVector(vector)
	if err != nil {
		return 0, fmt.Errorf("failed to encode vector: %w", err)
	}

	var initialized bool
	id, err := withLockRetry(ctx, s.opts.LockRetries, s.opts.LockRetryBase, func() (int64, error) {
		return writer.Do(ctx, s.queue, func(ctx context.Context, tx *sql.Tx) (int64, error) {
			// Claim the latch first: the write takes the database lock before
			// anything is read, so two writers cannot both see "no dimension".
			res, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO vector_meta (key, value) VALUES (?, ?)", dimensionKey, strconv.Itoa(dim))
			if err != nil {
				return 0, err
			}
			claimed, err := res.RowsAffected()
			if err != nil {
				return 0, err
			}

			stored, err := readDimension(ctx, tx)
			if err != nil {
				return 0, err
			}
			if stored != dim {
				return 0, fmt.Errorf("%w: stored=%d, new=%d", ErrDimensionMismatch, stored, dim)
			}

			if claimed == 1 {
				if err := initVectorIndex(ctx, tx, dim); err != nil {
					return 0, err
				}
				initialized = true
			}

			res, err = tx.ExecContext(ctx,
				"INSERT INTO chunks (file_id, path, chunk_index, embedding) VALUES (?, ?, ?, vec_f32(?))",
				fileID, path, chunkIndex, blob)
			if err != nil {
				return 0, fmt.Errorf("failed to insert chunk vector: %w", err)
			}
			return res.LastInsertId()
		})
	})
	if err != nil {
		if errors.Is(err, ErrDimensionMismatch) {
			s.logger.Error("embedding dimension mismatch", "error", err, "path", path)
		}
		return 0, err
	}

	if initialized {
		s.logger.Info("vector index initialized", "dimension", dim, "metric", DistanceMetric, "type", ElementType)
	}
	s.setDimension(dim)
	return id, nil
}

// initVectorIndex checks that the distance function accepts vectors of the
// new dimension and creates the partial index over embedded chunks.
func initVectorIndex(ctx context.Context, tx *sql.Tx, dim int) error {
	sample := make([]float32, dim)
	sample[0] = 1
	blob, err := encodeVector(sample)
	if err != nil {
		return err
	}

	var distance float64
	err = tx.QueryRowContext(ctx, "SELECT vec_distance_cosine(vec_f32(?), vec_f32(?))", blob, blob).Scan(&distance)
	if err != nil {
		return fmt.Errorf("vector index init failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_chunks_embedded ON chunks(file_id) WHERE embedding IS NOT NULL")
	if err != nil {
		return fmt.Errorf("vector index init failed: %w", err)
	}
	return nil
}

// SearchVectors returns the topK chunks nearest to query by cosine distance.
// Score is 1 - distance and may be negative for opposed vectors. An empty
// database returns no results rather than an error.
func (s *Store) SearchVectors(ctx context.Context, query []float32, topK int) ([]VectorMatch, error) {
	dim, err := s.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 || topK <= 0 {
		return []VectorMatch{}, nil
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: stored=%d, query=%d", ErrDimensionMismatch, dim, len(query))
	}

	blob, err := encodeVector(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query vector: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.file_id, c.path, c.chunk_index,
		       vec_distance_cosine(c.embedding, vec_f32(?)) AS distance
		FROM chunks c
		WHERE c.embedding IS NOT NULL
		ORDER BY distance ASC
		LIMIT ?
	`, blob, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorMatch, 0, topK)
	for rows.Next() {
		var (
			m    VectorMatch
			path sql.NullString
		)
		if err := rows.Scan(&m.FileID, &path, &m.ChunkIndex, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		m.Path = path.String
		m.Score = 1 - m.Distance
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// serializeVector converts a float32 slice to little-endian bytes
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector converts little-endian bytes back to a float32 slice
func deserializeVector(data []byte) []float32 {
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector
}
