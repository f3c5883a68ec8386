// Package events provides the typed event bus that fans named events
// through ordered hook handlers and reduces their verdicts into a
// single outcome.
package events

import (
	"context"
)

// Event is a named payload travelling through the bus. Data is mutable:
// handlers observe modifications made by earlier handlers in the chain.
type Event struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// Get returns a payload field.
func (e *Event) Get(key string) (any, bool) {
	v, ok := e.Data[key]
	return v, ok
}

// GetString returns a payload field as a string, or "" when absent.
func (e *Event) GetString(key string) string {
	if v, ok := e.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Set writes a payload field.
func (e *Event) Set(key string, value any) {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
}

// HandlerFunc is the signature of a hook handler. Handlers may block;
// ctx carries cancellation from the emitting operation.
type HandlerFunc func(ctx context.Context, event *Event) (*HookResult, error)

// Handler is a registered hook handler. Lower priority runs earlier;
// handlers with equal priority run in registration order.
type Handler struct {
	Name     string
	Priority int
	Fn       HandlerFunc

	seq uint64
}

// Reserved event names. Colon-separated, grouped by family.
const (
	SessionStart  = "session:start"
	SessionEnd    = "session:end"
	SessionResume = "session:resume"

	PromptSubmit   = "prompt:submit"
	PromptComplete = "prompt:complete"

	PlanStart = "plan:start"
	PlanEnd   = "plan:end"

	ProviderRequest                = "provider:request"
	ProviderResponse               = "provider:response"
	ProviderError                  = "provider:error"
	ProviderToolSequenceRepaired   = "provider:tool_sequence_repaired"
	ProviderIncompleteContinuation = "provider:incomplete_continuation"

	LLMRequest       = "llm:request"
	LLMResponse      = "llm:response"
	LLMRequestDebug  = "llm:request:debug"
	LLMResponseDebug = "llm:response:debug"
	LLMRequestRaw    = "llm:request:raw"
	LLMResponseRaw   = "llm:response:raw"

	ToolPre       = "tool:pre"
	ToolPost      = "tool:post"
	ToolError     = "tool:error"
	ToolSelecting = "tool:selecting"
	ToolSelected  = "tool:selected"

	ThinkingDelta = "thinking:delta"
	ThinkingFinal = "thinking:final"

	ContextPreCompact  = "context:pre_compact"
	ContextPostCompact = "context:post_compact"
	ContextInclude     = "context:include"

	ArtifactWrite = "artifact:write"
	ArtifactRead  = "artifact:read"

	PolicyViolation = "policy:violation"

	ApprovalRequired = "approval:required"
	ApprovalGranted  = "approval:granted"
	ApprovalDenied   = "approval:denied"

	ContentBlockStart = "content_block:start"
	ContentBlockDelta = "content_block:delta"
	ContentBlockEnd   = "content_block:end"

	OrchestratorComplete = "orchestrator:complete"

	// StreamDropped is a diagnostic raised when a slow subscriber loses
	// an event to backpressure.
	StreamDropped = "stream:dropped"
)

// ReservedEvents returns the built-in event universe. Modules may extend
// it at mount time through an "observability.events" capability.
func ReservedEvents() []string {
	return []string{
		SessionStart, SessionEnd, SessionResume,
		PromptSubmit, PromptComplete,
		PlanStart, PlanEnd,
		ProviderRequest, ProviderResponse, ProviderError,
		ProviderToolSequenceRepaired, ProviderIncompleteContinuation,
		LLMRequest, LLMResponse,
		LLMRequestDebug, LLMResponseDebug, LLMRequestRaw, LLMResponseRaw,
		ToolPre, ToolPost, ToolError, ToolSelecting, ToolSelected,
		ThinkingDelta, ThinkingFinal,
		ContextPreCompact, ContextPostCompact, ContextInclude,
		ArtifactWrite, ArtifactRead,
		PolicyViolation,
		ApprovalRequired, ApprovalGranted, ApprovalDenied,
		ContentBlockStart, ContentBlockDelta, ContentBlockEnd,
		OrchestratorComplete,
		StreamDropped,
	}
}
