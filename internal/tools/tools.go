// Package tools defines the tools the agent can call and the dispatcher
// that executes requested invocations.
package tools

import (
	"context"
	"fmt"
)

// Handler executes one tool invocation. Handlers return a structured
// payload; errors are embedded into the result by the dispatcher, so a
// handler failure never aborts a turn.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool is one callable tool: name, human-readable description, declared
// parameter schema, and executor.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry is a fixed mapping from tool name to tool. It is populated at
// construction and read-only afterwards; the agent loop and the model
// gateway both read it, neither mutates it.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates a registry with the built-in stub tools. Real
// implementations are swapped in behind the same contract.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	r.registerBuiltins()
	return r
}

func (r *Registry) register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, nil when absent.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Specs returns the registry in the chat-completions advertisement
// shape, in registration order.
func (r *Registry) Specs() []map[string]any {
	specs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return specs
}

func (r *Registry) registerBuiltins() {
	r.register(&Tool{
		Name:        "web_search",
		Description: "Search the web for current information. Use when the answer depends on facts you may not have.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"results": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return (default 5)",
				},
			},
			"required": []string{"query"},
		},
		Handler: handleWebSearch,
	})

	r.register(&Tool{
		Name:        "execute_code",
		Description: "Run a code snippet in a sandbox and return its output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "The code to execute",
				},
			},
			"required": []string{"code"},
		},
		Handler: handleExecuteCode,
	})

	r.register(&Tool{
		Name:        "process_file",
		Description: "Analyze or transform a previously uploaded file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fileId": map[string]any{
					"type":        "string",
					"description": "Identifier of the uploaded file",
				},
				"operation": map[string]any{
					"type":        "string",
					"description": "Operation to perform (default: analyze)",
				},
			},
			"required": []string{"fileId"},
		},
		Handler: handleProcessFile,
	})

	r.register(&Tool{
		Name:        "create_visualization",
		Description: "Render a chart from structured data and return its URL.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"data": map[string]any{
					"type":        "string",
					"description": "The data to visualize, as CSV or JSON",
				},
				"type": map[string]any{
					"type":        "string",
					"description": "Chart type (default: bar)",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "Chart title",
				},
			},
			"required": []string{"data"},
		},
		Handler: handleCreateVisualization,
	})
}

// Stub handlers. They satisfy the tool contract — structured in,
// structured out, no faults — while the real back-ends live elsewhere.

func handleWebSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	return map[string]any{
		"status": fmt.Sprintf("Simulated search for: %s", query),
		"items":  []any{},
	}, nil
}

func handleExecuteCode(ctx context.Context, args map[string]any) (map[string]any, error) {
	code, _ := args["code"].(string)
	return map[string]any{
		"output": fmt.Sprintf("Simulated execution of %d bytes of code", len(code)),
	}, nil
}

func handleProcessFile(ctx context.Context, args map[string]any) (map[string]any, error) {
	fileID, _ := args["fileId"].(string)
	operation, _ := args["operation"].(string)
	if operation == "" {
		operation = "analyze"
	}
	return map[string]any{
		"result": fmt.Sprintf("Simulated %s of file %s", operation, fileID),
	}, nil
}

func handleCreateVisualization(ctx context.Context, args map[string]any) (map[string]any, error) {
	chartType, _ := args["type"].(string)
	if chartType == "" {
		chartType = "bar"
	}
	title, _ := args["title"].(string)
	if title == "" {
		title = "chart"
	}
	return map[string]any{
		"chartUrl": fmt.Sprintf("https://charts.invalid/%s/%s.png", chartType, title),
	}, nil
}
