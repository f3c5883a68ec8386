// Package builtin provides the tools available to every session unless
// the mount plan says otherwise.
package builtin

import (
	"ampd/internal/tools"
)

// Register adds all built-in tools to the registry.
func Register(r *tools.Registry) error {
	builtins := []tools.Tool{
		NewEchoTool(),
		NewDatetimeTool(),
		NewReadFileTool(),
		NewWriteFileTool(),
		NewBashTool(),
	}
	for _, tool := range builtins {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers all built-in tools and panics on error.
func MustRegister(r *tools.Registry) {
	if err := Register(r); err != nil {
		panic(err)
	}
}

// Names returns the built-in tool names.
func Names() []string {
	return []string{"echo", "datetime", "read_file", "write_file", "bash"}
}

// Factories maps built-in tool names to constructors. Mount-plan loading
// uses fresh instances so each session can configure its own working
// directory.
func Factories() map[string]func() tools.Tool {
	return map[string]func() tools.Tool{
		"echo":       func() tools.Tool { return NewEchoTool() },
		"datetime":   func() tools.Tool { return NewDatetimeTool() },
		"read_file":  func() tools.Tool { return NewReadFileTool() },
		"write_file": func() tools.Tool { return NewWriteFileTool() },
		"bash":       func() tools.Tool { return NewBashTool() },
	}
}

// configureWorkDir pulls the session working directory out of a mount
// config, accepting either key form.
func configureWorkDir(config map[string]any) string {
	if dir, ok := config["amplified_dir"].(string); ok && dir != "" {
		return dir
	}
	if dir, ok := config["work_dir"].(string); ok && dir != "" {
		return dir
	}
	return ""
}
