package orchestrator

import (
	"encoding/json"

	"ampd/internal/provider"
	"ampd/internal/store"
)

// messagesFromTranscript rebuilds provider messages from persisted
// transcript entries.
func messagesFromTranscript(entries []*store.TranscriptEntry) []provider.Message {
	msgs := make([]provider.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, messageFromEntry(e))
	}
	return msgs
}

func messageFromEntry(e *store.TranscriptEntry) provider.Message {
	m := provider.Message{
		Role:       e.Role,
		ToolCallID: e.ToolCallID,
		Name:       e.Name,
		Metadata:   e.Metadata,
	}
	for _, tc := range e.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Tool,
			Arguments: tc.Arguments,
		})
	}

	switch content := e.Content.(type) {
	case string:
		m.Content = content
	case nil:
	default:
		// Structured content persists as a block list; round-trip
		// through JSON to recover the typed form.
		if data, err := json.Marshal(content); err == nil {
			var blocks []provider.ContentBlock
			if err := json.Unmarshal(data, &blocks); err == nil {
				m.Blocks = blocks
			}
		}
	}
	return m
}

// assistantEntry persists a structured assistant response.
func assistantEntry(resp *provider.ChatResponse) *store.TranscriptEntry {
	entry := &store.TranscriptEntry{
		Role:     provider.RoleAssistant,
		Metadata: resp.Metadata,
	}
	if len(resp.Content) > 0 {
		entry.Content = resp.Content
	} else {
		entry.Content = resp.Text()
	}
	for _, tc := range resp.ToolCalls {
		entry.ToolCalls = append(entry.ToolCalls, store.ToolCall{
			ID:        tc.ID,
			Tool:      tc.Name,
			Arguments: tc.Arguments,
		})
	}
	if resp.Usage.TotalTokens > 0 {
		entry.TokenCount = resp.Usage.OutputTokens
	}
	return entry
}

// assistantMessage mirrors assistantEntry for the in-memory working set.
func assistantMessage(resp *provider.ChatResponse) provider.Message {
	return provider.Message{
		Role:      provider.RoleAssistant,
		Blocks:    resp.Content,
		ToolCalls: resp.ToolCalls,
		Metadata:  resp.Metadata,
	}
}
