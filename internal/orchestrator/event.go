package orchestrator

// EventType classifies events surfaced to stream subscribers.
type EventType int

const (
	// EventTypeContent is a streamed text token.
	EventTypeContent EventType = iota
	// EventTypeToolCall marks a tool invocation request.
	EventTypeToolCall
	// EventTypeToolResult marks a tool result.
	EventTypeToolResult
	// EventTypeDone carries the turn's final content.
	EventTypeDone
	// EventTypeError carries a turn-terminating error.
	EventTypeError
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventTypeContent:
		return "content"
	case EventTypeToolCall:
		return "tool_call"
	case EventTypeToolResult:
		return "tool_result"
	case EventTypeDone:
		return "done"
	case EventTypeError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one streamed execution event.
type Event struct {
	Type EventType `json:"type"`

	// Content holds a token for content events and the final text for
	// done events.
	Content string `json:"content,omitempty"`

	// ToolName and ToolCallID identify tool events.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Err is set on error events.
	Err error `json:"-"`
}
