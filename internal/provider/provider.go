package provider

import "context"

// Provider is the chat interface mounted into the coordinator. The
// orchestrator only ever talks to this.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Complete sends a chat request and returns the full response.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ReasoningItem is provider reasoning state preserved across turns.
type ReasoningItem struct {
	ID        string `json:"id,omitempty"`
	Encrypted string `json:"encrypted,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Content   string `json:"content,omitempty"`
}

// WireStatus values returned by wire providers.
const (
	WireStatusComplete   = "complete"
	WireStatusIncomplete = "incomplete"
)

// WireMessage is one input entry of a wire request. Reasoning items are
// carried as top-level entries, never embedded in message content.
type WireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Reasoning *ReasoningItem `json:"reasoning,omitempty"`
}

// WireRequest is the converted request handed to a wire provider.
type WireRequest struct {
	Instructions       string             `json:"instructions,omitempty"`
	Input              []WireMessage      `json:"input"`
	Tools              []ToolSpec         `json:"tools,omitempty"`
	MaxOutputTokens    int                `json:"max_output_tokens,omitempty"`
	Temperature        float64            `json:"temperature,omitempty"`
	ReasoningEffort    string             `json:"reasoning_effort,omitempty"`
	PreviousResponseID string             `json:"previous_response_id,omitempty"`
	OnToken            func(token string) `json:"-"`
}

// WireResponse is the raw outcome of one upstream call.
type WireResponse struct {
	ID               string          `json:"id,omitempty"`
	Status           string          `json:"status"`
	IncompleteReason string          `json:"incomplete_reason,omitempty"`
	Content          []ContentBlock  `json:"content,omitempty"`
	ToolCalls        []ToolCall      `json:"tool_calls,omitempty"`
	Usage            Usage           `json:"usage"`
	Reasoning        []ReasoningItem `json:"reasoning,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

// WireProvider is the transport behind the adapter.
type WireProvider interface {
	// Name returns the wire provider name.
	Name() string

	// Send performs one upstream call.
	Send(ctx context.Context, req *WireRequest) (*WireResponse, error)

	// SupportsServerState reports whether continuations may reference
	// previous_response_id instead of re-sending accumulated output.
	SupportsServerState() bool
}
