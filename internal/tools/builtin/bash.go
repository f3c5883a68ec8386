package builtin

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"ampd/internal/tools"
)

const defaultBashTimeout = 60 * time.Second

// BashTool runs a shell command in the session working directory.
type BashTool struct {
	tools.BaseTool
	workDir string
	timeout time.Duration
}

// NewBashTool creates the bash tool.
func NewBashTool() *BashTool {
	return &BashTool{
		BaseTool: tools.BaseTool{
			ToolName:        "bash",
			ToolDescription: "Execute a shell command and return its combined output. Runs in the session working directory.",
			ToolSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "Shell command to execute",
					},
					"timeout_seconds": map[string]any{
						"type":        "integer",
						"description": "Maximum run time in seconds (default 60)",
						"minimum":     1,
					},
				},
				"required": []any{"command"},
			},
		},
		timeout: defaultBashTimeout,
	}
}

// Configure implements tools.Configurable.
func (t *BashTool) Configure(config map[string]any) error {
	t.workDir = configureWorkDir(config)
	if secs, ok := config["timeout_seconds"].(float64); ok && secs > 0 {
		t.timeout = time.Duration(secs) * time.Second
	}
	return nil
}

// Execute runs the command.
func (t *BashTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return tools.Fail("invalid_args", "command is required"), nil
	}

	timeout := t.timeout
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = t.workDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return tools.Failf("timeout", "command timed out after %s", timeout), nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return tools.Failf("exit_status", "exit %d: %s", exitErr.ExitCode(), strings.TrimSpace(output)), nil
		}
		return tools.Failf("exec_error", "%v", err), nil
	}
	return tools.OK(output), nil
}
