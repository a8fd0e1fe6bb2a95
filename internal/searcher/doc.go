// Package searcher answers natural-language queries against a project's
// vector store.
//
// # Basic Usage
//
//	s := searcher.New(emb)
//
//	resp, err := s.Search(ctx, store, "where are database locks retried", 5)
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s#%d (score: %.2f)\n", r.Rank, r.Path, r.ChunkIndex, r.Score)
//	}
//
// # Pipeline
//
// A search embeds the query with the same embedder the project was indexed
// with, asks the store for the nearest chunks, and reads each chunk's text
// back from the live source file. Chunks whose file has moved, shrunk or
// left the project root are dropped, so a response can hold fewer than topK
// results. Ranks are assigned after dropping and are always 1..n.
//
// Scores are 1 - cosine distance and range over [-1, 1].
//
// # Caching
//
// Two LRU caches sit in front of the pipeline:
//
//   - Query vectors, keyed by the SHA-256 of the query text (1000 entries)
//   - Whole responses, keyed by database path, topK and query, with a TTL
//     (default 10 minutes, 256 entries)
//
// InvalidateCache purges responses after a re-index. Query vectors are kept.
package searcher
