// Package agents runs the background reconciliation loops that keep the
// project registry consistent with what is actually on disk.
//
// IndexSyncAgent polls the registry and compares each project's recorded
// status with the counters read from its vector database. It writes a status
// only when the observed state implies a different one. A project that has
// files but no embeddings is ambiguous (a run in progress, or a stalled one)
// and is left alone.
//
// FileWatcher polls watched project roots and diffs a cheap signature per
// file (modification time and size). Changes accumulate in a pending set that
// is handed to the registered callback at most once per debounce window. The
// watcher never decides whether to re-index; the callback owns that policy.
//
// Both agents expose a single-pass method (SyncOnce, CheckOnce) so the
// reconciliation rules can be tested without waiting for a ticker.
package agents
