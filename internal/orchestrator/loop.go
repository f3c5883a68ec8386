// Package orchestrator drives the agentic loop of a session: provider
// call, parallel tool execution, feed-back, until terminal text or the
// iteration cap.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"ampd/internal/coordinator"
	"ampd/internal/events"
	"ampd/internal/provider"
	"ampd/internal/store"
	"ampd/internal/tools"
)

// DefaultMaxIterations caps tool loops per turn; 0 means unlimited.
const DefaultMaxIterations = 20

// reminderPrompt is the one-shot system injection after the cap.
const reminderPrompt = "Maximum iterations reached. Summarize your progress and provide your best final answer now. Do not request any more tools."

const previewLength = 200

// Loop is the orchestrator mounted into the coordinator's single slot.
type Loop struct {
	coord         *coordinator.Coordinator
	sessions      *store.SessionStore
	executor      *tools.Executor
	maxIterations int
}

// Option configures the loop.
type Option func(*Loop)

// WithMaxIterations caps tool loops per turn (0 = unlimited).
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n >= 0 {
			l.maxIterations = n
		}
	}
}

// New creates the agentic loop over a coordinator and session store.
func New(coord *coordinator.Coordinator, sessions *store.SessionStore, opts ...Option) *Loop {
	l := &Loop{
		coord:         coord,
		sessions:      sessions,
		executor:      tools.NewExecutor(coord.Tools(), coord.Bus(), coord),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements coordinator.Orchestrator.
func (l *Loop) Name() string {
	return "agentic-loop"
}

// Execute runs one turn synchronously and returns the final content.
func (l *Loop) Execute(ctx context.Context, sessionID, prompt string) (string, error) {
	var final string
	var failure error
	for ev := range l.ExecuteStream(ctx, sessionID, prompt) {
		switch ev.Type {
		case EventTypeDone:
			final = ev.Content
		case EventTypeError:
			failure = ev.Err
		}
	}
	return final, failure
}

// ExecuteStream runs one turn, emitting tokens and lifecycle events on
// the returned channel. The channel closes when the turn ends.
func (l *Loop) ExecuteStream(ctx context.Context, sessionID, prompt string) <-chan Event {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		l.run(ctx, sessionID, prompt, ch)
	}()
	return ch
}

func (l *Loop) run(ctx context.Context, sessionID, prompt string, ch chan<- Event) {
	ctx = tools.WithSessionID(ctx, sessionID)
	bus := l.coord.Bus()

	submit := bus.Emit(ctx, events.PromptSubmit, map[string]any{
		"prompt":     prompt,
		"session_id": sessionID,
	})
	submit = l.coord.ProcessHookResult(submit, events.PromptSubmit, "orchestrator")
	if submit.Denied() {
		final := "Operation denied: " + submit.Reason
		ch <- Event{Type: EventTypeDone, Content: final}
		l.complete(ctx, final, 0, "denied")
		return
	}

	if err := l.sessions.AppendEntry(sessionID, &store.TranscriptEntry{
		Role:    provider.RoleUser,
		Content: prompt,
	}); err != nil {
		ch <- Event{Type: EventTypeError, Err: fmt.Errorf("persist prompt: %w", err)}
		return
	}

	entries, err := l.sessions.Transcript(sessionID)
	if err != nil {
		ch <- Event{Type: EventTypeError, Err: err}
		return
	}
	messages := messagesFromTranscript(entries)
	messages = l.maybeCompact(ctx, messages)

	prov, err := l.coord.SelectProvider()
	if err != nil {
		ch <- Event{Type: EventTypeError, Err: err}
		return
	}

	toolSpecs := l.coord.Tools().Specs()
	iteration := 1
	overCap := false

	for {
		req := bus.Emit(ctx, events.ProviderRequest, map[string]any{
			"provider":  prov.Name(),
			"iteration": iteration,
		})
		req = l.coord.ProcessHookResult(req, events.ProviderRequest, "orchestrator")
		if req.Denied() {
			final := "Operation denied: " + req.Reason
			ch <- Event{Type: EventTypeDone, Content: final}
			l.complete(ctx, final, iteration, "denied")
			return
		}

		// Ephemeral injections apply to the request copy only.
		working := applyInjections(messages, l.coord.TakeInjections())
		if overCap {
			working = append(working, provider.Message{
				Role:    provider.RoleSystem,
				Content: reminderPrompt,
			})
		}

		chatReq := &provider.ChatRequest{
			Messages: working,
			Tools:    toolSpecs,
			OnToken: func(token string) {
				ch <- Event{Type: EventTypeContent, Content: token}
			},
		}

		resp, err := prov.Complete(ctx, chatReq)
		if err != nil {
			final := "Provider error: " + err.Error()
			ch <- Event{Type: EventTypeError, Err: err}
			l.complete(ctx, final, iteration, "incomplete")
			return
		}

		bus.Emit(ctx, events.ProviderResponse, map[string]any{
			"provider":   prov.Name(),
			"usage":      resp.Usage,
			"tool_calls": resp.HasToolCalls(),
		})
		l.emitBlocks(ctx, resp)

		switch {
		case resp.HasToolCalls() && !overCap:
			entry := assistantEntry(resp)
			if err := l.sessions.AppendEntry(sessionID, entry); err != nil {
				ch <- Event{Type: EventTypeError, Err: err}
				return
			}
			messages = append(messages, assistantMessage(resp))

			for _, tc := range resp.ToolCalls {
				ch <- Event{Type: EventTypeToolCall, ToolName: tc.Name, ToolCallID: tc.ID}
			}
			_, outcomes := l.executor.ExecuteGroup(ctx, resp.ToolCalls)
			for _, out := range outcomes {
				toolEntry := &store.TranscriptEntry{
					Role:       provider.RoleTool,
					Content:    out.Content,
					ToolCallID: out.ToolCallID,
					Name:       out.ToolName,
				}
				if err := l.sessions.AppendEntry(sessionID, toolEntry); err != nil {
					ch <- Event{Type: EventTypeError, Err: err}
					return
				}
				messages = append(messages, messageFromEntry(toolEntry))
				ch <- Event{Type: EventTypeToolResult, ToolName: out.ToolName, ToolCallID: out.ToolCallID, Content: out.Content}
			}

			iteration++
			if l.maxIterations > 0 && iteration > l.maxIterations {
				overCap = true
			}
			continue

		case resp.Text() != "" || overCap:
			entry := assistantEntry(resp)
			if err := l.sessions.AppendEntry(sessionID, entry); err != nil {
				ch <- Event{Type: EventTypeError, Err: err}
				return
			}
			final := resp.Text()
			ch <- Event{Type: EventTypeDone, Content: final}
			l.complete(ctx, final, iteration, "success")
			return

		default:
			log.Warn().Str("session_id", sessionID).Int("iteration", iteration).
				Msg("provider returned neither text nor tool calls")
			iteration++
			if l.maxIterations > 0 && iteration > l.maxIterations {
				overCap = true
			}
		}
	}
}

// maybeCompact runs the mounted context manager when the transcript has
// outgrown its threshold. The compacted list is used for this turn only.
func (l *Loop) maybeCompact(ctx context.Context, messages []provider.Message) []provider.Message {
	cm := l.coord.ContextManager()
	if cm == nil || len(messages) <= cm.Threshold() {
		return messages
	}
	bus := l.coord.Bus()
	bus.Emit(ctx, events.ContextPreCompact, map[string]any{"message_count": len(messages)})
	compacted, err := cm.Compact(ctx, messages)
	if err != nil {
		log.Warn().Err(err).Msg("compaction failed, using full transcript")
		return messages
	}
	bus.Emit(ctx, events.ContextPostCompact, map[string]any{"message_count": len(compacted)})
	return compacted
}

// emitBlocks announces each response block with start/end framing.
// Usage attaches only to the last block.
func (l *Loop) emitBlocks(ctx context.Context, resp *provider.ChatResponse) {
	bus := l.coord.Bus()
	total := len(resp.Content)
	for i, block := range resp.Content {
		bus.Emit(ctx, events.ContentBlockStart, map[string]any{
			"block_type":   string(block.Type),
			"block_index":  i,
			"total_blocks": total,
		})
		end := map[string]any{
			"block_index":  i,
			"total_blocks": total,
			"block":        block,
		}
		if i == total-1 {
			end["usage"] = resp.Usage
		}
		bus.Emit(ctx, events.ContentBlockEnd, end)
	}
}

func (l *Loop) complete(ctx context.Context, final string, turns int, status string) {
	bus := l.coord.Bus()
	preview := final
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	bus.Emit(ctx, events.PromptComplete, map[string]any{
		"response_preview": preview,
		"length":           len(final),
	})
	bus.Emit(ctx, events.OrchestratorComplete, map[string]any{
		"orchestrator": l.Name(),
		"turn_count":   turns,
		"status":       status,
	})
}

// applyInjections materialises pending ephemeral injections into a copy
// of the working message list. Non-ephemeral injections are the hook's
// own responsibility (written to the transcript directly) and skipped.
func applyInjections(messages []provider.Message, injections []coordinator.Injection) []provider.Message {
	if len(injections) == 0 {
		return messages
	}

	out := make([]provider.Message, len(messages))
	copy(out, messages)

	for _, inj := range injections {
		if !inj.Ephemeral {
			continue
		}
		if inj.AppendToLastToolResult {
			if i := lastToolIndex(out); i >= 0 {
				appended := out[i]
				appended.Content = appended.TextContent() + "\n\n" + inj.Text
				appended.Blocks = nil
				out[i] = appended
				continue
			}
		}
		role := provider.RoleSystem
		if inj.Role == events.InjectUser {
			role = provider.RoleUser
		}
		out = append(out, provider.Message{Role: role, Content: inj.Text})
	}
	return out
}

func lastToolIndex(messages []provider.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == provider.RoleTool {
			return i
		}
	}
	return -1
}
