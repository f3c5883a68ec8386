package builtin

import (
	"context"
	"os"
	"path/filepath"

	"ampd/internal/tools"
)

const maxReadSize = 10 * 1024 * 1024

// ReadFileTool reads files relative to the session working directory.
type ReadFileTool struct {
	tools.BaseTool
	workDir string
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{
		BaseTool: tools.BaseTool{
			ToolName:        "read_file",
			ToolDescription: "Read the contents of a file. Relative paths resolve against the session working directory.",
			ToolSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File path to read",
					},
				},
				"required": []any{"path"},
			},
		},
	}
}

// Configure implements tools.Configurable.
func (t *ReadFileTool) Configure(config map[string]any) error {
	t.workDir = configureWorkDir(config)
	return nil
}

// Execute reads the file.
func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return tools.Fail("invalid_args", "path is required"), nil
	}
	path = t.resolve(path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tools.Failf("not_found", "file not found: %s", path), nil
		}
		return tools.Failf("io_error", "stat %s: %v", path, err), nil
	}
	if info.IsDir() {
		return tools.Failf("invalid_args", "path is a directory: %s", path), nil
	}
	if info.Size() > maxReadSize {
		return tools.Failf("too_large", "file is %d bytes, limit is %d", info.Size(), maxReadSize), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tools.Failf("io_error", "read %s: %v", path, err), nil
	}
	return tools.OK(string(data)), nil
}

func (t *ReadFileTool) resolve(path string) string {
	if filepath.IsAbs(path) || t.workDir == "" {
		return path
	}
	return filepath.Join(t.workDir, path)
}
