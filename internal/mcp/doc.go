// Package mcp implements the Model Context Protocol (MCP) server for codevec.
//
// The server exposes four tools to coding assistants:
//   - index_project: Index a source tree into its own vector database
//   - search_code: Return the chunks nearest to a natural language query
//   - get_status: Report lifecycle status and storage counters
//   - list_projects: List every registered project
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio. Stdout carries protocol messages only, so
// all logging goes to stderr:
//
//	codevec serve
//
// # Tool: index_project
//
//	Request:
//	{
//	  "name": "index_project",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "incremental": true,
//	    "exclude": ["testdata/", "*.min.js"]
//	  }
//	}
//
//	Response:
//	{
//	  "project_id": "3f2a9c1e07b4d5a6",
//	  "status": "ready",
//	  "files_processed": 42,
//	  "files_skipped": 180,
//	  "chunks_embedded": 311,
//	  "duration_ms": 5210
//	}
//
// A project whose files were all processed but none embedded finishes in
// the error status; the call itself still succeeds so the counters reach
// the client.
//
// # Tool: search_code
//
// Projects are named by project_id or by absolute path:
//
//	{
//	  "name": "search_code",
//	  "arguments": {"path": "/path/to/project", "query": "retry with backoff", "top_k": 5}
//	}
//
// Each result carries rank, path, chunk_index, score, language and content.
// Score is 1 - cosine distance and may be negative.
//
// # Error Codes
//
//	-32602  Invalid params (bad path, top_k out of range)
//	-32603  Internal error
//	-32001  Project not found
//	-32002  Indexing already in progress for the project
//	-32003  Project registered but not indexed
//	-32004  Empty query
package mcp
