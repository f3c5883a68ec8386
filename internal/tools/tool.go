// Package tools holds the tool registry and the executor that wraps
// every invocation in tool:pre / tool:post / tool:error events.
package tools

import (
	"context"
	"fmt"

	"ampd/internal/provider"
)

// Context keys for passing execution context to tools.
type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	groupIDKey   contextKey = "parallel_group_id"
)

// WithSessionID returns a new context with the session ID attached.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the session ID from the context.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// WithGroupID returns a new context with the parallel group ID attached.
func WithGroupID(ctx context.Context, groupID string) context.Context {
	return context.WithValue(ctx, groupIDKey, groupID)
}

// GroupIDFromContext retrieves the parallel group ID from the context.
func GroupIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(groupIDKey).(string)
	return id, ok
}

// Tool is a capability the model can invoke.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string

	// Description returns what the tool does, shown to the model.
	Description() string

	// InputSchema returns the JSON Schema for the tool's arguments.
	InputSchema() map[string]any

	// Execute runs the tool. Expected failures go into the Result;
	// returned errors are unexpected faults.
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Configurable is implemented by tools that accept mount-time config,
// such as the session working directory.
type Configurable interface {
	Configure(config map[string]any) error
}

// ExecError describes a failed execution.
type ExecError struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// Result is the outcome of one tool execution.
type Result struct {
	Success bool       `json:"success"`
	Output  any        `json:"output,omitempty"`
	Error   *ExecError `json:"error,omitempty"`
}

// OK builds a successful result.
func OK(output any) Result {
	return Result{Success: true, Output: output}
}

// Fail builds a failed result.
func Fail(errType, msg string) Result {
	return Result{Success: false, Error: &ExecError{Type: errType, Msg: msg}}
}

// Failf builds a failed result with a formatted message.
func Failf(errType, format string, args ...any) Result {
	return Fail(errType, fmt.Sprintf(format, args...))
}

// BaseTool provides the descriptive half of the Tool interface.
type BaseTool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      map[string]any
}

func (b *BaseTool) Name() string                { return b.ToolName }
func (b *BaseTool) Description() string         { return b.ToolDescription }
func (b *BaseTool) InputSchema() map[string]any { return b.ToolSchema }

// Spec converts a tool to the provider-facing spec.
func Spec(t Tool) provider.ToolSpec {
	return provider.ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.InputSchema(),
	}
}
