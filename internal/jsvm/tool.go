package jsvm

import (
	"context"
	"encoding/json"

	"ampd/internal/tools"
)

// ScriptTool is a tool whose behaviour lives in an embedded script. The
// script must define a top-level `execute(args)` function; it may return
// a plain value (treated as successful output) or an object of the form
// `{success, output, error: {type, msg}}`.
type ScriptTool struct {
	tools.BaseTool
	rt     *Runtime
	script string
}

// NewScriptTool builds a tool from script source.
func NewScriptTool(rt *Runtime, name, description string, schema map[string]any, script string) *ScriptTool {
	return &ScriptTool{
		BaseTool: tools.BaseTool{
			ToolName:        name,
			ToolDescription: description,
			ToolSchema:      schema,
		},
		rt:     rt,
		script: script,
	}
}

// Configure implements tools.Configurable; the config rides into the
// script via a global `config` object on each call.
func (t *ScriptTool) Configure(config map[string]any) error {
	prologue := "var config = " + jsObjectLiteral(config) + ";\n"
	t.script = prologue + t.script
	return nil
}

// Execute runs the script's execute function.
func (t *ScriptTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	res, err := t.rt.CallFunction(ctx, t.script, "execute", t.Name(), args)
	if err != nil {
		return tools.Result{}, err
	}
	return parseToolResult(res.Value), nil
}

func parseToolResult(value any) tools.Result {
	obj, ok := value.(map[string]any)
	if !ok {
		return tools.OK(value)
	}
	success, hasSuccess := obj["success"].(bool)
	if !hasSuccess {
		return tools.OK(value)
	}
	if success {
		return tools.OK(obj["output"])
	}
	errType, msg := "script_error", "tool failed"
	if e, ok := obj["error"].(map[string]any); ok {
		if v, ok := e["type"].(string); ok {
			errType = v
		}
		if v, ok := e["msg"].(string); ok {
			msg = v
		}
	}
	return tools.Fail(errType, msg)
}

func jsObjectLiteral(config map[string]any) string {
	if len(config) == 0 {
		return "{}"
	}
	// Config values come from JSON mount plans, so JSON is valid JS here.
	data, err := json.Marshal(config)
	if err != nil {
		return "{}"
	}
	return string(data)
}
