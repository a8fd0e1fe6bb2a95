package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codevec/internal/config"
	"github.com/dshills/codevec/internal/embedder/embeddertest"
	"github.com/dshills/codevec/internal/manager"
)

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	m, err := manager.New(cfg, manager.WithEmbedder(embeddertest.New(8)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	return NewServer(m, nil)
}

func newSourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go":         "package main\n\nfunc main() { println(\"hello\") }\n",
		"util/strings.py": "def shout(s):\n    return s.upper()\n",
	}
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

// call invokes a handler and decodes its JSON text payload
func call(t *testing.T, h toolHandler, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args

	res, err := h(context.Background(), req)
	if err != nil {
		return nil, err
	}
	require.Len(t, res.Content, 1)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, nil
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestServer_Tools(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, []string{"get_status", "index_project", "list_projects", "search_code"}, s.ToolNames())

	msg := s.mcp.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"index_project"`)
	assert.Contains(t, string(raw), `"top_k"`)
}

func TestIndexSearchStatus(t *testing.T) {
	s := newTestServer(t)
	root := newSourceTree(t)

	out, err := call(t, s.handleIndexProject, map[string]interface{}{"path": root})
	require.NoError(t, err)
	assert.Equal(t, "ready", out["status"])
	assert.EqualValues(t, 2, out["files_processed"])
	assert.EqualValues(t, 2, out["files_embedded"])
	id, _ := out["project_id"].(string)
	require.NotEmpty(t, id)

	content, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)

	out, err = call(t, s.handleSearchCode, map[string]interface{}{
		"project_id": id,
		"query":      string(content),
		"top_k":      float64(1),
	})
	require.NoError(t, err)
	results, ok := out["results"].([]interface{})
	require.True(t, ok)
	require.Len(t, results, 1)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "main.go", first["path"])
	assert.Equal(t, "go", first["language"])
	assert.EqualValues(t, 1, first["rank"])
	assert.Equal(t, string(content), first["content"])

	out, err = call(t, s.handleGetStatus, map[string]interface{}{"path": root})
	require.NoError(t, err)
	assert.Equal(t, true, out["indexed"])
	stats := out["statistics"].(map[string]interface{})
	assert.EqualValues(t, 2, stats["file_count"])
	assert.EqualValues(t, 2, stats["embedding_count"])
	meta := out["metadata"].(map[string]interface{})
	assert.Equal(t, "2", meta["total_files"])

	out, err = call(t, s.handleListProjects, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, out["count"])
}

func TestIndexProjectInvalidPath(t *testing.T) {
	s := newTestServer(t)
	root := newSourceTree(t)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing", map[string]interface{}{}},
		{"relative", map[string]interface{}{"path": "some/dir"}},
		{"does not exist", map[string]interface{}{"path": filepath.Join(root, "nope")}},
		{"file", map[string]interface{}{"path": filepath.Join(root, "main.go")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, s.handleIndexProject, tt.args)
			requireCode(t, err, ErrorCodeInvalidParams)
		})
	}
}

func TestSearchCodeErrors(t *testing.T) {
	s := newTestServer(t)
	root := newSourceTree(t)

	_, err := call(t, s.handleSearchCode, map[string]interface{}{"path": root, "query": "   "})
	requireCode(t, err, ErrorCodeEmptyQuery)

	_, err = call(t, s.handleSearchCode, map[string]interface{}{"query": "hello"})
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleSearchCode, map[string]interface{}{"path": root, "query": "hello"})
	requireCode(t, err, ErrorCodeProjectNotFound)

	_, err = s.manager.Registry().CreateProject(context.Background(), root, "")
	require.NoError(t, err)
	_, err = call(t, s.handleSearchCode, map[string]interface{}{"path": root, "query": "hello"})
	requireCode(t, err, ErrorCodeNotIndexed)

	_, err = call(t, s.handleSearchCode, map[string]interface{}{"path": root, "query": "hello", "top_k": float64(500)})
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestGetStatusUnknownProject(t *testing.T) {
	s := newTestServer(t)

	out, err := call(t, s.handleGetStatus, map[string]interface{}{"project_id": "missing"})
	require.NoError(t, err)
	assert.Equal(t, false, out["indexed"])
	assert.Equal(t, "missing", out["project"])
}

func TestGetStringSliceDefault(t *testing.T) {
	args := map[string]interface{}{
		"typed": []string{"a/"},
		"json":  []interface{}{"b/", 3, "", "*.min.js"},
	}
	assert.Equal(t, []string{"a/"}, getStringSliceDefault(args, "typed", nil))
	assert.Equal(t, []string{"b/", "*.min.js"}, getStringSliceDefault(args, "json", nil))
	assert.Equal(t, []string{"x"}, getStringSliceDefault(args, "absent", []string{"x"}))
}
