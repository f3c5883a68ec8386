package jsvm

import (
	"context"
	"fmt"

	"ampd/internal/events"
)

// HookHandler wraps a script as an event handler. The script must define
// a top-level `handler(event)` function receiving `{name, data}` and
// returning one of:
//
//	{action: "continue"}
//	{action: "deny", reason}
//	{action: "modify", data, reason}
//	{action: "inject_context", context_injection, context_injection_role,
//	 ephemeral, append_to_last_tool_result, suppress_output}
//
// A missing or null return means continue.
func HookHandler(rt *Runtime, script, scriptName string) events.HandlerFunc {
	return func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		res, err := rt.CallFunction(ctx, script, "handler", scriptName, map[string]any{
			"name": e.Name,
			"data": e.Data,
		})
		if err != nil {
			return nil, err
		}
		return parseHookResult(res.Value)
	}
}

func parseHookResult(value any) (*events.HookResult, error) {
	if value == nil {
		return events.Continue(), nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("hook result must be an object, got %T", value)
	}

	action, _ := obj["action"].(string)
	switch events.Action(action) {
	case events.ActionDeny:
		reason, _ := obj["reason"].(string)
		return events.Deny(reason), nil
	case events.ActionModify:
		data, _ := obj["data"].(map[string]any)
		reason, _ := obj["reason"].(string)
		return events.Modify(data, reason), nil
	case events.ActionInjectContext:
		text, _ := obj["context_injection"].(string)
		role, _ := obj["context_injection_role"].(string)
		result := events.InjectContext(text, events.InjectionRole(role))
		result.Ephemeral, _ = obj["ephemeral"].(bool)
		result.AppendToLastToolResult, _ = obj["append_to_last_tool_result"].(bool)
		result.SuppressOutput, _ = obj["suppress_output"].(bool)
		return result, nil
	case events.ActionContinue, "":
		return events.Continue(), nil
	default:
		return nil, fmt.Errorf("unknown hook action %q", action)
	}
}
