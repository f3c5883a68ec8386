package builtin

import (
	"context"

	"ampd/internal/tools"
)

// EchoTool returns its input verbatim. Useful for pipeline smoke tests.
type EchoTool struct {
	tools.BaseTool
}

// NewEchoTool creates the echo tool.
func NewEchoTool() *EchoTool {
	return &EchoTool{
		BaseTool: tools.BaseTool{
			ToolName:        "echo",
			ToolDescription: "Return the given text unchanged.",
			ToolSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "Text to echo back",
					},
				},
				"required": []any{"text"},
			},
		},
	}
}

// Execute returns the text argument.
func (t *EchoTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	text, _ := args["text"].(string)
	return tools.OK(text), nil
}
