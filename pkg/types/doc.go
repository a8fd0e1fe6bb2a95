// Package types provides shared type definitions for codevec.
//
// The types here cross package boundaries: the registry, the reconciliation
// agents and the MCP layer all speak in terms of Project and Status, and the
// searcher hands SearchResult values to its callers.
//
// # Project lifecycle
//
// A project moves through a small state machine:
//
//	created -> indexing -> ready
//	created -> indexing -> error
//
// error is reachable from any state, for example when the project root is
// removed from disk. Status.Valid reports whether a string is one of the
// four known states.
//
// # Chunks
//
// Chunk describes one fixed-size window of a file. Chunk text is never
// persisted; Start and End are byte offsets into the live file and are
// recomputed from the chunk index when text is needed again.
//
// # Search Results
//
// SearchResult carries the similarity score produced by the vector store:
//
//	result := types.SearchResult{
//	    Rank:       1,
//	    Path:       "internal/storage/sqlite.go",
//	    ChunkIndex: 3,
//	    Score:      0.82,
//	}
//
// Score is 1 - cosine distance. Cosine distance ranges over [0, 2], so Score
// ranges over [-1, 1]; callers must not assume it is non-negative.
package types
