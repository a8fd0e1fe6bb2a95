package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/codevec/internal/chunker"
	"github.com/dshills/codevec/internal/embedder"
	"github.com/dshills/codevec/internal/storage"
	"github.com/dshills/codevec/pkg/types"
)

// Metadata keys written by a run
const (
	MetaProjectPath       = storage.ProjectPathKey
	MetaTotalFiles        = "total_files"
	MetaLastIndexedAt     = "last_indexed_at"
	MetaLastIndexDuration = "last_index_duration"
	MetaFilesIndexed      = "files_indexed"
	MetaFilesSkipped      = "files_skipped"
	MetaFilesEmbedded     = "files_embedded"
	MetaDependencies      = "dependencies"
	MetaDirectDepsCount   = "direct_deps_count"
)

// SnippetSize is the number of leading bytes stored with a file record
const SnippetSize = 512

// Options contains the tunable parameters of a run
type Options struct {
	FileWorkers          int           // Files processed in parallel
	EmbeddingConcurrency int           // Embedding calls in flight across all files
	EmbeddingBatchSize   int           // Chunks per embedding sub-batch
	EmbeddingTimeout     time.Duration // Limit for one embedding call
	FileTimeout          time.Duration // Limit for processing one file
	MaxFileSize          int64         // Larger files are not enumerated
	ChunkSize            int
	ChunkOverlap         int
	Exclude              []string // Extra exclusion patterns
}

// DefaultFileWorkers returns max(2, min(8, NumCPU/2))
func DefaultFileWorkers() int {
	n := runtime.NumCPU() / 2
	if n > 8 {
		n = 8
	}
	if n < 2 {
		n = 2
	}
	return n
}

// DefaultOptions returns the standard run settings
func DefaultOptions() Options {
	return Options{
		FileWorkers:          DefaultFileWorkers(),
		EmbeddingConcurrency: 4,
		EmbeddingBatchSize:   16,
		EmbeddingTimeout:     15 * time.Second,
		FileTimeout:          120 * time.Second,
		MaxFileSize:          200000,
		ChunkSize:            chunker.DefaultSize,
		ChunkOverlap:         chunker.DefaultOverlap,
	}
}

// withDefaults fills zero fields from d
func (o Options) withDefaults(d Options) Options {
	if o.FileWorkers <= 0 {
		o.FileWorkers = d.FileWorkers
	}
	if o.EmbeddingConcurrency <= 0 {
		o.EmbeddingConcurrency = d.EmbeddingConcurrency
	}
	if o.EmbeddingBatchSize <= 0 {
		o.EmbeddingBatchSize = d.EmbeddingBatchSize
	}
	if o.EmbeddingTimeout <= 0 {
		o.EmbeddingTimeout = d.EmbeddingTimeout
	}
	if o.FileTimeout <= 0 {
		o.FileTimeout = d.FileTimeout
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = d.MaxFileSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
		o.ChunkOverlap = d.ChunkOverlap
	}
	if o.Exclude == nil {
		o.Exclude = d.Exclude
	}
	return o
}

// Result summarizes one run
type Result struct {
	TaskID         string
	TotalFiles     int
	FilesProcessed int // File records written
	FilesEmbedded  int // Files with at least one stored vector
	FilesSkipped   int // Unchanged files in incremental mode
	FilesFailed    int // Files that failed or timed out
	ChunksEmbedded int
	ChunksFailed   int
	Dependencies   Dependencies
	Duration       time.Duration
}

// fileOutcome is the result of processing one file
type fileOutcome struct {
	stored   bool
	embedded bool
	skipped  bool
	failed   bool
	chunks   int
	failures int
}

// Indexer runs the indexing pipeline: enumerate, detect changes, chunk,
// embed under a concurrency gate, and persist through the storage engine.
type Indexer struct {
	embedder embedder.Embedder
	opts     Options
	active   *ActiveSet
	logger   *slog.Logger
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// New creates an Indexer using emb for every run
func New(emb embedder.Embedder, opts Options, options ...Option) *Indexer {
	idx := &Indexer{
		embedder: emb,
		opts:     opts.withDefaults(DefaultOptions()),
		active:   NewActiveSet(),
		logger:   slog.Default(),
	}
	for _, o := range options {
		o(idx)
	}
	return idx
}

// Active returns the set of running roots
func (idx *Indexer) Active() *ActiveSet {
	return idx.active
}

// Options returns the indexer's defaults
func (idx *Indexer) Options() Options {
	return idx.opts
}

// IndexProject indexes root into store. In incremental mode unchanged files
// are skipped; otherwise the store is cleared first. Failures of single
// files or chunks are counted in the Result and never end the run.
//
// ErrIndexInProgress is returned when root is already being indexed, and
// ErrInactive when the run was deactivated between stages; the Result is
// still returned in the latter case.
func (idx *Indexer) IndexProject(ctx context.Context, root string, store storage.Storage, opts Options, incremental bool) (*Result, error) {
	opts = opts.withDefaults(idx.opts)
	start := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absRoot)
	}

	r, err := idx.active.begin(absRoot)
	if err != nil {
		return nil, err
	}
	defer idx.active.end(absRoot, r)

	task := NewTask(absRoot)
	ctx = WithTask(ctx, task)
	logger := idx.logger.With("task", task.ID, "root", absRoot)
	result := &Result{TaskID: task.ID}

	if !incremental {
		if err := store.ClearProjectData(ctx); err != nil {
			return nil, err
		}
	}
	if err := store.SetMetadata(ctx, MetaProjectPath, absRoot); err != nil {
		logger.Warn("failed to store project path", "error", err)
	}

	files, err := discover(ctx, absRoot, opts.MaxFileSize, opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate files: %w", err)
	}
	result.TotalFiles = len(files)
	logger.Info("files enumerated", "total", len(files), "incremental", incremental)
	if err := store.SetMetadata(ctx, MetaTotalFiles, strconv.Itoa(len(files))); err != nil {
		logger.Warn("failed to store total_files", "error", err)
	}

	task.SetStage(StageFiles)
	if err := idx.processFiles(ctx, files, store, opts, incremental, result); err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	idx.writeProgress(ctx, store, result, logger)

	if !r.active.Load() {
		logger.Info("run deactivated after file processing")
		return result, ErrInactive
	}

	task.SetStage(StageDeps)
	deps, errs := extractDependencies(files)
	for _, e := range errs {
		logger.Warn("failed to parse manifest", "error", e)
	}
	if !r.active.Load() {
		logger.Info("run deactivated after dependency extraction")
		return result, ErrInactive
	}
	result.Dependencies = deps
	if err := idx.storeDependencies(ctx, store, deps); err != nil {
		logger.Warn("failed to store dependencies", "error", err)
	}

	task.SetStage(StageDone)
	result.Duration = time.Since(start)
	logger.Info("indexing complete",
		"processed", result.FilesProcessed,
		"embedded", result.FilesEmbedded,
		"skipped", result.FilesSkipped,
		"failed", result.FilesFailed,
		"chunks", result.ChunksEmbedded,
		"duration", result.Duration)
	return result, nil
}

// processFiles runs the file worker pool over files
func (idx *Indexer) processFiles(ctx context.Context, files []candidate, store storage.Storage,
	opts Options, incremental bool, result *Result) error {

	ch := chunker.New(opts.ChunkSize, opts.ChunkOverlap)
	gate := semaphore.NewWeighted(int64(opts.EmbeddingConcurrency))

	var processed, embedded, skipped, failed, chunks, chunkFailures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.FileWorkers)
	for _, f := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			out := idx.processFile(gctx, f, store, ch, gate, opts, incremental)
			if out.stored {
				processed.Add(1)
			}
			if out.embedded {
				embedded.Add(1)
			}
			if out.skipped {
				skipped.Add(1)
			}
			if out.failed {
				failed.Add(1)
			}
			chunks.Add(int64(out.chunks))
			chunkFailures.Add(int64(out.failures))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	result.FilesProcessed = int(processed.Load())
	result.FilesEmbedded = int(embedded.Load())
	result.FilesSkipped = int(skipped.Load())
	result.FilesFailed = int(failed.Load())
	result.ChunksEmbedded = int(chunks.Load())
	result.ChunksFailed = int(chunkFailures.Load())
	return nil
}

// processFile handles one file under the per-file timeout
func (idx *Indexer) processFile(ctx context.Context, f candidate, store storage.Storage, ch *chunker.Chunker,
	gate *semaphore.Weighted, opts Options, incremental bool) fileOutcome {

	ctx, cancel := context.WithTimeout(ctx, opts.FileTimeout)
	defer cancel()
	logger := taskLogger(ctx, idx.logger).With("file", f.Rel)

	// unreadable, empty and non-indexable files are skipped, not failed
	out := fileOutcome{skipped: true}
	content, err := os.ReadFile(f.Full)
	if err != nil || len(content) == 0 {
		return out
	}
	lang := chunker.DetectLanguage(f.Rel)
	if !chunker.IsIndexable(lang) {
		return out
	}

	info, err := os.Stat(f.Full)
	if err != nil {
		return out
	}
	out.skipped = false
	modTime := float64(info.ModTime().UnixNano()) / 1e9
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	if incremental {
		needs, err := store.NeedsReindex(ctx, f.Rel, modTime, hash)
		if err != nil {
			logger.Warn("change detection failed", "error", err)
		} else if !needs {
			out.skipped = true
			return out
		}
	}

	text := string(content)
	fileID, err := store.UpsertFile(ctx, &storage.File{
		Path:         f.Rel,
		Language:     lang,
		Snippet:      snippet(text),
		LastModified: &modTime,
		FileHash:     &hash,
	})
	if err != nil {
		logger.Warn("failed to store file", "error", err)
		out.failed = true
		return out
	}
	out.stored = true

	pieces := ch.Split(text)
	for start := 0; start < len(pieces); start += opts.EmbeddingBatchSize {
		if ctx.Err() != nil {
			out.failures += len(pieces) - start
			break
		}
		end := start + opts.EmbeddingBatchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		batch := pieces[start:end]

		vectors := idx.embedBatch(ctx, batch, gate, opts, logger)
		for i, vec := range vectors {
			c := batch[i]
			if vec == nil {
				out.failures++
				continue
			}
			if _, err := store.InsertChunkVector(ctx, fileID, f.Rel, c.Index, vec); err != nil {
				out.failures++
				if errors.Is(err, storage.ErrDimensionMismatch) {
					logger.Error("chunk rejected", "chunk", c.Index, "error", err)
				} else {
					logger.Warn("failed to store chunk vector", "chunk", c.Index, "error", err)
				}
				continue
			}
			out.chunks++
			out.embedded = true
		}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn("file processing timed out", "timeout", opts.FileTimeout)
		out.failed = true
	}
	if out.failed || out.failures > 0 || !out.embedded {
		// the parent ctx may be past the per-file deadline
		if err := store.MarkStale(context.WithoutCancel(ctx), fileID); err != nil {
			logger.Warn("failed to mark file for retry", "error", err)
		}
	}
	return out
}

// embedBatch returns one vector per chunk, nil where embedding failed. A
// batch-capable embedder gets one call per sub-batch; if that call fails the
// chunks are retried one by one. Every call holds the gate and has its own
// timeout.
func (idx *Indexer) embedBatch(ctx context.Context, batch []types.Chunk, gate *semaphore.Weighted,
	opts Options, logger *slog.Logger) [][]float32 {

	vectors := make([][]float32, len(batch))

	if idx.embedder.SupportsBatch() {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		resp, err := gatedCall(ctx, gate, opts.EmbeddingTimeout, func(cctx context.Context) (*embedder.BatchEmbeddingResponse, error) {
			return idx.embedder.GenerateBatch(cctx, embedder.BatchEmbeddingRequest{Texts: texts})
		})
		if err == nil && len(resp.Embeddings) == len(batch) {
			for i, emb := range resp.Embeddings {
				if emb != nil && !embedder.IsZeroVector(emb.Vector) {
					vectors[i] = emb.Vector
				} else {
					logger.Warn("chunk embedding failed", "chunk", batch[i].Index, "error", "no vector returned")
				}
			}
			return vectors
		}
		if ctx.Err() != nil {
			return vectors
		}
		logger.Warn("batch embedding failed, falling back to single calls", "chunks", len(batch), "error", err)
	}

	var wg sync.WaitGroup
	for i, c := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emb, err := gatedCall(ctx, gate, opts.EmbeddingTimeout, func(cctx context.Context) (*embedder.Embedding, error) {
				return idx.embedder.GenerateEmbedding(cctx, embedder.EmbeddingRequest{Text: c.Text})
			})
			switch {
			case err != nil:
				logger.Warn("chunk embedding failed", "chunk", c.Index, "error", err)
			case emb == nil || embedder.IsZeroVector(emb.Vector):
				logger.Warn("chunk embedding failed", "chunk", c.Index, "error", embedder.ErrZeroVector)
			default:
				vectors[i] = emb.Vector
			}
		}()
	}
	wg.Wait()
	return vectors
}

// gatedCall acquires the embedding gate and runs fn with its own timeout
func gatedCall[T any](ctx context.Context, gate *semaphore.Weighted, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := gate.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer gate.Release(1)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

// writeProgress stores the run counters in one batched write
func (idx *Indexer) writeProgress(ctx context.Context, store storage.Storage, result *Result, logger *slog.Logger) {
	if t, ok := TaskFrom(ctx); ok {
		t.SetStage(StageMetadata)
	}
	err := store.SetMetadataBatch(ctx, map[string]string{
		MetaLastIndexedAt:     time.Now().UTC().Format(time.RFC3339),
		MetaLastIndexDuration: strconv.FormatFloat(result.Duration.Seconds(), 'f', 3, 64),
		MetaFilesIndexed:      strconv.Itoa(result.FilesProcessed),
		MetaFilesSkipped:      strconv.Itoa(result.FilesSkipped),
		MetaFilesEmbedded:     strconv.Itoa(result.FilesEmbedded),
		MetaTotalFiles:        strconv.Itoa(result.TotalFiles),
	})
	if err != nil {
		logger.Warn("failed to store progress metadata", "error", err)
	}
}

// storeDependencies records the dependency names and their count
func (idx *Indexer) storeDependencies(ctx context.Context, store storage.Storage, deps Dependencies) error {
	encoded, err := json.Marshal(deps)
	if err != nil {
		return err
	}
	return store.SetMetadataBatch(ctx, map[string]string{
		MetaDependencies:    string(encoded),
		MetaDirectDepsCount: strconv.Itoa(deps.Count()),
	})
}

// snippet returns at most SnippetSize leading bytes of text without
// splitting a rune
func snippet(text string) string {
	if len(text) <= SnippetSize {
		return text
	}
	cut := SnippetSize
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
