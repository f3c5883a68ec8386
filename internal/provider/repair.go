package provider

import "fmt"

// Repair records one synthesised tool result.
type Repair struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
}

// RepairToolSequences closes dangling tool calls: for every tool call in
// an assistant message that has no matching tool-role result anywhere
// later in the conversation, a synthetic tool-role message is inserted
// directly after that assistant message. The input slice is not
// modified. Returns the repaired sequence and one Repair per synthetic
// message, in conversation order.
func RepairToolSequences(messages []Message) ([]Message, []Repair) {
	answered := make(map[string]struct{})
	for _, m := range messages {
		if m.Role == RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = struct{}{}
		}
	}

	var (
		out     []Message
		repairs []Repair
	)
	for _, m := range messages {
		out = append(out, m)
		if m.Role != RoleAssistant {
			continue
		}
		for _, tc := range collectToolCalls(&m) {
			if tc.ID == "" {
				continue
			}
			if _, ok := answered[tc.ID]; ok {
				continue
			}
			answered[tc.ID] = struct{}{}
			out = append(out, Message{
				Role:       RoleTool,
				Content:    fmt.Sprintf("System error: tool call %s did not return a result.", tc.ID),
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
			repairs = append(repairs, Repair{ToolCallID: tc.ID, ToolName: tc.Name})
		}
	}
	return out, repairs
}

// collectToolCalls gathers tool calls from both the structured field and
// any tool-call content blocks, deduplicated by id.
func collectToolCalls(m *Message) []ToolCall {
	seen := make(map[string]struct{})
	var calls []ToolCall

	add := func(tc ToolCall) {
		if tc.ID != "" {
			if _, ok := seen[tc.ID]; ok {
				return
			}
			seen[tc.ID] = struct{}{}
		}
		calls = append(calls, tc)
	}

	for _, tc := range m.ToolCalls {
		add(tc)
	}
	for _, b := range m.Blocks {
		if b.Type == BlockToolCall {
			add(ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		}
	}
	return calls
}
