// Package indexer runs the indexing pipeline for one project directory.
//
// # Basic Usage
//
//	idx := indexer.New(emb, indexer.DefaultOptions(), indexer.WithLogger(logger))
//	res, err := idx.IndexProject(ctx, "/path/to/project", store, indexer.Options{}, true)
//	fmt.Printf("%d processed, %d skipped\n", res.FilesProcessed, res.FilesSkipped)
//
// # Pipeline
//
//  1. Enumeration: walk the root, drop files over MaxFileSize and files
//     matching the default exclusions, caller patterns or .gitignore.
//     Dependency directories (.venv, node_modules) are kept but ordered last.
//  2. Change detection: in incremental mode a file is skipped when its
//     stored modification time and SHA-256 both match.
//  3. Chunking: fixed windows of ChunkSize bytes overlapping by ChunkOverlap.
//  4. Embedding: chunks are sent in sub-batches of EmbeddingBatchSize.
//     Every embedding call holds a slot of a gate sized EmbeddingConcurrency,
//     independent of the FileWorkers pool, and has its own timeout.
//  5. Persistence: vectors are written through the store's writer queue.
//  6. Progress: counters are written to project metadata in one batch.
//  7. Dependencies: go.mod, package.json and requirements.txt are parsed and
//     the direct dependency names stored as metadata.
//
// A failed chunk or file is counted and logged; it never ends the run.
//
// # Cancellation
//
// ActiveSet.Deactivate clears a run's active flag. The run checks it after
// file processing and after dependency extraction and returns ErrInactive.
//
// # Task context
//
// Every run gets a Task with a UUID carried in its context. Log lines
// written for a chunk or file include the task id and current stage.
package indexer
