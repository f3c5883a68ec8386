package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ampd/internal/events"
	"ampd/internal/provider"
)

// HookProcessor lets the coordinator record per-source state (context
// injections) from reduced hook results. Optional.
type HookProcessor interface {
	ProcessHookResult(result *events.HookResult, event, source string) *events.HookResult
}

// Outcome is the contribution of one tool call: the result message body
// keyed by the originating call.
type Outcome struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	Denied     bool   `json:"denied,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
}

// Executor runs tool calls, wrapping each in tool:pre / tool:post /
// tool:error events. Failures never escape to the caller as errors:
// every call produces an Outcome.
type Executor struct {
	registry *Registry
	bus      *events.Registry
	hooks    HookProcessor
}

// NewExecutor creates a tool executor. hooks may be nil.
func NewExecutor(registry *Registry, bus *events.Registry, hooks HookProcessor) *Executor {
	return &Executor{registry: registry, bus: bus, hooks: hooks}
}

// ExecuteGroup runs all calls of one assistant turn concurrently under a
// single parallel group ID. Outcomes are returned in the original
// tool-call order regardless of completion order.
func (e *Executor) ExecuteGroup(ctx context.Context, calls []provider.ToolCall) (string, []Outcome) {
	groupID := uuid.NewString()
	if len(calls) == 0 {
		return groupID, nil
	}

	outcomes := make([]Outcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call provider.ToolCall) {
			defer wg.Done()
			outcomes[i] = e.ExecuteCall(ctx, call, groupID)
		}(i, call)
	}
	wg.Wait()
	return groupID, outcomes
}

// ExecuteCall runs a single tool call inside parallel group groupID.
func (e *Executor) ExecuteCall(ctx context.Context, call provider.ToolCall, groupID string) Outcome {
	ctx = WithGroupID(ctx, groupID)
	input := call.Arguments
	if input == nil {
		input = map[string]any{}
	}

	pre := e.emit(ctx, events.ToolPre, map[string]any{
		"tool_name":         call.Name,
		"tool_input":        input,
		"parallel_group_id": groupID,
	})
	if pre.Denied() {
		return Outcome{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    "Denied by hook: " + pre.Reason,
			Denied:     true,
		}
	}
	if pre.Action == events.ActionModify {
		if replaced, ok := pre.Data["tool_input"].(map[string]any); ok {
			input = replaced
		}
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		e.emit(ctx, events.ToolError, map[string]any{
			"tool_name":         call.Name,
			"parallel_group_id": groupID,
			"error":             "tool not found",
		})
		return Outcome{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    fmt.Sprintf("Error: Tool '%s' not found", call.Name),
			Failed:     true,
		}
	}

	result, err := e.run(ctx, tool, input)
	if err != nil {
		e.emit(ctx, events.ToolError, map[string]any{
			"tool_name":         call.Name,
			"tool_input":        input,
			"parallel_group_id": groupID,
			"error":             err.Error(),
		})
		return Outcome{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    "Error executing tool: " + err.Error(),
			Failed:     true,
		}
	}

	e.emit(ctx, events.ToolPost, map[string]any{
		"tool_name":         call.Name,
		"tool_input":        input,
		"result":            result,
		"parallel_group_id": groupID,
	})

	if !result.Success {
		msg := "unknown error"
		if result.Error != nil {
			msg = result.Error.Msg
		}
		return Outcome{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    "Error: " + msg,
			Failed:     true,
		}
	}
	return Outcome{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    stringify(result.Output),
	}
}

// run validates input and executes the tool with panic containment.
func (e *Executor) run(ctx context.Context, tool Tool, input map[string]any) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("tool", tool.Name()).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("tool panicked")
			result = Result{}
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), rec)
		}
	}()

	if err := e.registry.Validate(tool.Name(), input); err != nil {
		return Result{}, err
	}
	return tool.Execute(ctx, input)
}

func (e *Executor) emit(ctx context.Context, event string, data map[string]any) *events.HookResult {
	result := e.bus.Emit(ctx, event, data)
	if e.hooks != nil {
		source, _ := data["tool_name"].(string)
		result = e.hooks.ProcessHookResult(result, event, source)
	}
	return result
}

func stringify(output any) string {
	if output == nil {
		return ""
	}
	if s, ok := output.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", output)
}
