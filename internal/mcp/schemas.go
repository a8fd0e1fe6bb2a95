package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codevec/internal/searcher"
)

// projectRefProperties are the two ways a tool call can name a project
func projectRefProperties() map[string]interface{} {
	return map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Absolute path to an indexed project root",
		},
		"project_id": map[string]interface{}{
			"type":        "string",
			"description": "Project id as returned by index_project or list_projects",
		},
	}
}

// indexProjectTool returns the tool definition for index_project
func indexProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_project",
		Description: "Index a source tree so it can be searched by meaning",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"incremental": map[string]interface{}{
					"type":        "boolean",
					"description": "Skip files whose modification time has not changed since the last run",
					"default":     true,
				},
				"exclude": map[string]interface{}{
					"type":        "array",
					"description": "Extra exclusion patterns: dir/ prefixes, globs or path substrings",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	props := projectRefProperties()
	props["query"] = map[string]interface{}{
		"type":        "string",
		"description": "Natural language description of the code to find",
	}
	props["top_k"] = map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of chunks to return",
		"default":     searcher.DefaultTopK,
		"minimum":     1,
		"maximum":     searcher.MaxTopK,
	}

	return mcp.Tool{
		Name:        "search_code",
		Description: "Return the chunks of an indexed project nearest to a query",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report the lifecycle status and storage counters of a project",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: projectRefProperties(),
		},
	}
}

func listProjectsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_projects",
		Description: "List every registered project",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
