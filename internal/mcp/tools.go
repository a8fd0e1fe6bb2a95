package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codevec/internal/indexer"
	"github.com/dshills/codevec/internal/manager"
	"github.com/dshills/codevec/internal/registry"
	"github.com/dshills/codevec/internal/searcher"
	"github.com/dshills/codevec/internal/storage"
	"github.com/dshills/codevec/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound    = -32001 // No registered project matches the path or id
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Project registered but never indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleIndexProject handles the index_project tool invocation
func (s *Server) handleIndexProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	path := getStringDefault(args, "path", "")
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	req := manager.IndexRequest{
		Path:        path,
		Incremental: getBoolDefault(args, "incremental", true),
		Exclude:     getStringSliceDefault(args, "exclude", nil),
	}

	project, res, err := s.manager.IndexProject(ctx, req)
	if err != nil {
		return nil, toMCPError(err, "indexing failed")
	}

	response := map[string]interface{}{
		"project_id":      project.ID,
		"name":            project.Name,
		"status":          string(project.Status),
		"task_id":         res.TaskID,
		"files_total":     res.TotalFiles,
		"files_processed": res.FilesProcessed,
		"files_embedded":  res.FilesEmbedded,
		"files_skipped":   res.FilesSkipped,
		"files_failed":    res.FilesFailed,
		"chunks_embedded": res.ChunksEmbedded,
		"chunks_failed":   res.ChunksFailed,
		"dependencies":    res.Dependencies.Count(),
		"duration_ms":     res.Duration.Milliseconds(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query := getStringDefault(args, "query", "")
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	ref, err := projectRef(args)
	if err != nil {
		return nil, err
	}

	topK := getIntDefault(args, "top_k", searcher.DefaultTopK)
	if topK < 1 || topK > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", searcher.MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	project, err := s.manager.ResolveProject(ctx, ref)
	if err != nil {
		return nil, toMCPError(err, "failed to resolve project")
	}
	if project.Status == types.StatusCreated {
		return nil, newMCPError(ErrorCodeNotIndexed, "project has not been indexed", map[string]interface{}{
			"project_id": project.ID,
			"hint":       "use the index_project tool first",
		})
	}

	resp, err := s.manager.Search(ctx, project.ID, query, topK)
	if err != nil {
		return nil, toMCPError(err, "search failed")
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"rank":        r.Rank,
			"path":        r.Path,
			"chunk_index": r.ChunkIndex,
			"score":       r.Score,
			"language":    r.Language,
			"content":     r.Content,
		})
	}

	response := map[string]interface{}{
		"project_id":  project.ID,
		"query":       query,
		"results":     results,
		"count":       len(results),
		"matches":     resp.Matches,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	ref, err := projectRef(args)
	if err != nil {
		return nil, err
	}

	st, err := s.manager.Status(ctx, ref)
	if errors.Is(err, registry.ErrProjectNotFound) {
		response := map[string]interface{}{
			"indexed": false,
			"project": ref,
			"message": "Project not registered. Use the index_project tool to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return nil, toMCPError(err, "failed to get project status")
	}

	response := map[string]interface{}{
		"indexed":  st.Project.Status == types.StatusReady,
		"indexing": st.Indexing,
		"project":  projectJSON(st.Project),
		"statistics": map[string]interface{}{
			"file_count":      st.Stats.FileCount,
			"embedding_count": st.Stats.EmbeddingCount,
		},
	}
	if len(st.Metadata) > 0 {
		response["metadata"] = st.Metadata
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListProjects handles the list_projects tool invocation
func (s *Server) handleListProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.manager.ListProjects(ctx)
	if err != nil {
		return nil, toMCPError(err, "failed to list projects")
	}

	list := make([]map[string]interface{}, 0, len(projects))
	for i := range projects {
		list = append(list, projectJSON(&projects[i]))
	}

	response := map[string]interface{}{
		"projects": list,
		"count":    len(list),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMCPError maps a domain error onto its protocol code
func toMCPError(err error, message string) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, registry.ErrProjectNotFound):
		return newMCPError(ErrorCodeProjectNotFound, "project not found", data)
	case errors.Is(err, indexer.ErrIndexInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", data)
	case errors.Is(err, searcher.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, "query cannot be empty", data)
	case errors.Is(err, storage.ErrNotFound):
		return newMCPError(ErrorCodeNotIndexed, "project has no index", data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// projectRef returns the project_id argument, else a validated path
func projectRef(args map[string]interface{}) (string, error) {
	if id := getStringDefault(args, "project_id", ""); id != "" {
		return id, nil
	}

	path := getStringDefault(args, "path", "")
	if path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path or project_id is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if !filepath.IsAbs(path) {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrPathNotAbsolute.Error(),
		})
	}
	return filepath.Clean(path), nil
}

func projectJSON(p *types.Project) map[string]interface{} {
	return map[string]interface{}{
		"id":              p.ID,
		"name":            p.Name,
		"path":            p.Path,
		"status":          string(p.Status),
		"created_at":      p.CreatedAt.Format(time.RFC3339),
		"last_indexed_at": formatTime(p.LastIndexedAt),
	}
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// validatePath checks if a path exists and is a readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSliceDefault extracts a string array parameter, skipping non-string items
func getStringSliceDefault(args map[string]interface{}, key string, defaultValue []string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
