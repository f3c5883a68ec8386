// Package provider defines the chat data model, the provider interface
// mounted into the coordinator, and the adapter that normalises requests
// before they reach a wire provider.
package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// BlockType discriminates ContentBlock variants.
type BlockType string

const (
	BlockText      BlockType = "text"
	BlockThinking  BlockType = "thinking"
	BlockToolCall  BlockType = "tool_call"
	BlockReasoning BlockType = "reasoning"
)

// Visibility of thinking/reasoning blocks.
const (
	VisibilityInternal = "internal"
	VisibilityPublic   = "public"
)

// ContentBlock is a typed fragment of an assistant message.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text variant.
	Text string `json:"text,omitempty"`

	// Thinking variant. Encrypted and ReasoningID carry provider state
	// for re-insertion on the next turn.
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
	Encrypted   string `json:"encrypted,omitempty"`
	ReasoningID string `json:"reasoning_id,omitempty"`

	// ToolCall variant.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// Reasoning variant.
	Summary string `json:"summary,omitempty"`
	Content string `json:"content,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolCallBlock builds a tool-call content block.
func ToolCallBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolCall, ID: id, Name: name, Input: input}
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Message is one turn of a conversation. Content is either plain text
// or a list of content blocks; when Blocks is set it takes precedence.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"-"`
	Blocks     []ContentBlock `json:"-"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TextContent returns the message's text: plain content, or the
// concatenation of its text blocks.
func (m *Message) TextContent() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

type messageJSON struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// MarshalJSON encodes content as a string for plain messages and as a
// block list for structured ones.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		Role:       m.Role,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
		Metadata:   m.Metadata,
	}

	var (
		raw []byte
		err error
	)
	if len(m.Blocks) > 0 {
		raw, err = json.Marshal(m.Blocks)
	} else {
		raw, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, err
	}
	out.Content = raw
	return json.Marshal(out)
}

// UnmarshalJSON accepts both string and block-list content.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Role = in.Role
	m.ToolCalls = in.ToolCalls
	m.ToolCallID = in.ToolCallID
	m.Name = in.Name
	m.Metadata = in.Metadata
	m.Content = ""
	m.Blocks = nil

	if len(in.Content) == 0 {
		return nil
	}
	if in.Content[0] == '[' {
		return json.Unmarshal(in.Content, &m.Blocks)
	}
	if err := json.Unmarshal(in.Content, &m.Content); err != nil {
		return fmt.Errorf("message content: %w", err)
	}
	return nil
}

// ReasoningOptions enables extended thinking on a request.
type ReasoningOptions struct {
	Effort       string `json:"effort,omitempty"` // defaults to "high"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// ChatRequest is the normalised request consumed by the adapter.
type ChatRequest struct {
	Messages        []Message         `json:"messages"`
	Tools           []ToolSpec        `json:"tools,omitempty"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
	Temperature     float64           `json:"temperature,omitempty"`
	Reasoning       *ReasoningOptions `json:"reasoning,omitempty"`

	// OnToken, when set, receives text deltas as the wire provider
	// surfaces them.
	OnToken func(token string) `json:"-"`
}

// Usage is token accounting for one response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage across continuations.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ChatResponse is the adapter's normalised response.
type ChatResponse struct {
	Content      []ContentBlock `json:"content"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	Usage        Usage          `json:"usage"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Text concatenates the response's text blocks.
func (r *ChatResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// HasToolCalls reports whether the model requested tool execution.
func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
