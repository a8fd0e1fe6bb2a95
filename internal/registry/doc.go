// Package registry stores the list of indexed projects in a small SQLite
// database shared by the CLI, the MCP server and the reconciliation agents.
//
// A project's id is derived from its absolute path, and its vector
// database lives at <data_dir>/projects/<id>.db.
package registry
