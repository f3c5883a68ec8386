package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ampd/internal/tools"
)

// WriteFileTool writes files relative to the session working directory.
type WriteFileTool struct {
	tools.BaseTool
	workDir string
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{
		BaseTool: tools.BaseTool{
			ToolName:        "write_file",
			ToolDescription: "Write content to a file, creating parent directories as needed. Relative paths resolve against the session working directory.",
			ToolSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File path to write",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Content to write",
					},
				},
				"required": []any{"path", "content"},
			},
		},
	}
}

// Configure implements tools.Configurable.
func (t *WriteFileTool) Configure(config map[string]any) error {
	t.workDir = configureWorkDir(config)
	return nil
}

// Execute writes the file.
func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return tools.Fail("invalid_args", "path is required"), nil
	}

	if !filepath.IsAbs(path) && t.workDir != "" {
		path = filepath.Join(t.workDir, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return tools.Failf("io_error", "create dir: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return tools.Failf("io_error", "write %s: %v", path, err), nil
	}
	return tools.OK(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}
