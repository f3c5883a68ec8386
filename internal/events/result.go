package events

// Action is the verdict a hook handler returns for an event.
type Action string

const (
	ActionContinue      Action = "continue"
	ActionDeny          Action = "deny"
	ActionModify        Action = "modify"
	ActionInjectContext Action = "inject_context"
)

// InjectionRole is the transcript role an injected message takes.
type InjectionRole string

const (
	InjectSystem InjectionRole = "system"
	InjectUser   InjectionRole = "user"
)

// HookResult is a single handler's verdict, or the reduced verdict of a
// whole handler chain. Only the fields relevant to Action are set.
type HookResult struct {
	Action Action `json:"action"`

	// Reason accompanies deny and modify.
	Reason string `json:"reason,omitempty"`

	// Data holds replacement payload fields for modify.
	Data map[string]any `json:"data,omitempty"`

	// Context injection fields.
	ContextInjection       string        `json:"context_injection,omitempty"`
	ContextInjectionRole   InjectionRole `json:"context_injection_role,omitempty"`
	Ephemeral              bool          `json:"ephemeral,omitempty"`
	AppendToLastToolResult bool          `json:"append_to_last_tool_result,omitempty"`
	SuppressOutput         bool          `json:"suppress_output,omitempty"`
}

// Continue returns a no-effect result.
func Continue() *HookResult {
	return &HookResult{Action: ActionContinue}
}

// Deny returns a result that aborts the triggering operation.
func Deny(reason string) *HookResult {
	return &HookResult{Action: ActionDeny, Reason: reason}
}

// Modify returns a result whose data replaces named fields in the
// event payload.
func Modify(data map[string]any, reason string) *HookResult {
	return &HookResult{Action: ActionModify, Data: data, Reason: reason}
}

// InjectContext returns a result that injects text into the next
// provider request.
func InjectContext(text string, role InjectionRole) *HookResult {
	if role == "" {
		role = InjectSystem
	}
	return &HookResult{
		Action:               ActionInjectContext,
		ContextInjection:     text,
		ContextInjectionRole: role,
	}
}

// Denied reports whether the result aborts the operation.
func (r *HookResult) Denied() bool {
	return r != nil && r.Action == ActionDeny
}

// Reduce folds per-handler results into one verdict:
//
//  1. Any deny wins, with the first deny's reason.
//  2. Else any modify wins; data maps are merged in handler order.
//  3. Else the last inject_context wins (later hooks are closer to
//     the request).
//  4. Else continue.
//
// Nil entries are treated as continue. Reduce is pure: it never mutates
// its inputs.
func Reduce(results []*HookResult) *HookResult {
	var (
		firstDeny  *HookResult
		lastInject *HookResult
		merged     map[string]any
	)

	for _, r := range results {
		if r == nil {
			continue
		}
		switch r.Action {
		case ActionDeny:
			if firstDeny == nil {
				firstDeny = r
			}
		case ActionModify:
			if merged == nil {
				merged = make(map[string]any)
			}
			for k, v := range r.Data {
				merged[k] = v
			}
		case ActionInjectContext:
			lastInject = r
		}
	}

	switch {
	case firstDeny != nil:
		return Deny(firstDeny.Reason)
	case merged != nil:
		return &HookResult{Action: ActionModify, Data: merged}
	case lastInject != nil:
		cp := *lastInject
		return &cp
	default:
		return Continue()
	}
}
